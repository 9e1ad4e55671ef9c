// SPDX-License-Identifier: AGPL-3.0-or-later
package types

// Header names with special destination mappings.
const (
	HeaderRunID     = "Run ID"
	HeaderTimestamp = "Timestamp"
)

// DefaultTitleProperty is the destination's title column when the config
// does not name one.
const DefaultTitleProperty = "Name"

// FixedHeaderCount is the number of leading headers filled from run identity
// (id, timestamp, owner) rather than looked up in config or summary.
const FixedHeaderCount = 3

// Config is the sync configuration file, enriched with the resolved tracking
// project. Keys keep the upper-case spelling used in config.json.
type Config struct {
	NotionToken   string   `json:"NOTION_TOKEN" yaml:"NOTION_TOKEN"`
	FixedHeaders  []string `json:"FIXED_HEADERS" yaml:"FIXED_HEADERS"`
	TitleProperty string   `json:"TITLE_PROPERTY,omitempty" yaml:"TITLE_PROPERTY,omitempty"`
	// TeamName and ProjectName are never read from the file; the loader
	// overwrites them with the resolved project.
	TeamName    string `json:"TEAM_NAME,omitempty" yaml:"TEAM_NAME,omitempty"`
	ProjectName string `json:"PROJECT_NAME,omitempty" yaml:"PROJECT_NAME,omitempty"`
}

// Scope returns the team/project path runs are listed under.
func (c Config) Scope() string {
	return c.TeamName + "/" + c.ProjectName
}
