// SPDX-License-Identifier: AGPL-3.0-or-later

package tracking

import (
	"fmt"
	"strings"
)

// Run states reported by the tracking service.
const (
	StateRunning  = "running"
	StateFinished = "finished"
	StateFailed   = "failed"
	StateCrashed  = "crashed"
	StateKilled   = "killed"
)

// TimestampKey is the summary entry holding the run's epoch seconds.
const TimestampKey = "_timestamp"

// Run is a read-only view of one tracked experiment run.
type Run struct {
	// ID is the run's short identifier, unique within its project.
	ID          string
	DisplayName string
	State       string
	// User is the owning user's name.
	User    string
	Config  Fields
	Summary Fields
	// Err is set when the service returned a config or summary document that
	// could not be decoded; the affected fields are left empty.
	Err error
}

type runNode struct {
	Name           string `json:"name"`
	DisplayName    string `json:"displayName"`
	State          string `json:"state"`
	Config         string `json:"config"`
	SummaryMetrics string `json:"summaryMetrics"`
	User           *struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"user"`
}

func (n runNode) toRun() Run {
	run := Run{
		ID:          n.Name,
		DisplayName: n.DisplayName,
		State:       n.State,
	}
	if n.User != nil {
		run.User = n.User.Name
	}

	rawConfig, err := decodeFields(n.Config)
	if err != nil {
		run.Err = fmt.Errorf("decode config of run %s: %w", n.Name, err)
	}
	run.Config = make(Fields, len(rawConfig))
	for key, entry := range rawConfig {
		// Internal keys such as _wandb are not user configuration.
		if strings.HasPrefix(key, "_") {
			continue
		}
		if wrapped, ok := entry.(map[string]any); ok {
			if inner, ok := wrapped["value"]; ok {
				entry = inner
			}
		}
		run.Config[key] = NewValue(entry)
	}

	rawSummary, err := decodeFields(n.SummaryMetrics)
	if err != nil && run.Err == nil {
		run.Err = fmt.Errorf("decode summary of run %s: %w", n.Name, err)
	}
	run.Summary = make(Fields, len(rawSummary))
	for key, entry := range rawSummary {
		run.Summary[key] = NewValue(entry)
	}
	return run
}
