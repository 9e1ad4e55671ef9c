// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import "time"

// Defaults for the command-line surface.
const (
	DefaultScheduleMinutes = 30
	DefaultUserName        = "Anonymous"
	DefaultConfigPath      = "config.json"
	DefaultLogFile         = "wandb_sync.log"
)

// Arguments carries the parsed command-line options of a sync process.
type Arguments struct {
	ScheduleMinutes int
	UserName        string
	DatabaseID      string
	ConfigPath      string
	// Entity and Project override the tracking project from the environment.
	Entity  string
	Project string
}

// Interval converts the schedule to a duration.
func (a Arguments) Interval() time.Duration {
	return time.Duration(a.ScheduleMinutes) * time.Minute
}
