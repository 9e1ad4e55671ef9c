// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rows decides which tracked runs need a destination row and maps
// each one to destination properties through the ordered header list.
package rows

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/flowd-org/runsync/internal/notion"
	"github.com/flowd-org/runsync/internal/tracking"
	"github.com/flowd-org/runsync/internal/types"
)

// TimestampLayout is the textual form of a run's creation time.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	dateLayout = "2006-01-02T15:04:05"
	// maxTextRunes is the destination's limit for a single text run.
	maxTextRunes = 2000
)

// Status classifies a run's outcome.
type Status int

const (
	StatusMapped Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusMapped:
		return "mapped"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Skip reasons.
const (
	ReasonNotFinished   = "not_finished"
	ReasonAlreadySynced = "already_synced"
	ReasonOtherUser     = "other_user"
)

// ErrMissingRunID is returned for a qualifying run without an identifier.
var ErrMissingRunID = errors.New("run has no identifier")

// Outcome is the result of evaluating one run.
type Outcome struct {
	RunID  string
	Status Status
	// Reason is set for skipped runs.
	Reason string
	// Values are the ordered row values of a mapped run.
	Values     []string
	Properties notion.Properties
	// Err is set for failed runs.
	Err error
}

// RunSource yields runs in fetch order. *tracking.RunIterator satisfies it.
type RunSource interface {
	Next() bool
	Run() tracking.Run
	Err() error
}

// Batch is the result of processing a run sequence.
type Batch struct {
	Outcomes []Outcome
	Mapped   int
	Skipped  int
	Failed   int
}

// MappedRunIDs returns the identifiers of mapped runs in fetch order.
func (b Batch) MappedRunIDs() []string {
	ids := make([]string, 0, b.Mapped)
	for _, o := range b.Outcomes {
		if o.Status == StatusMapped {
			ids = append(ids, o.RunID)
		}
	}
	return ids
}

// Processor filters and maps runs for one target user.
type Processor struct {
	Headers []string
	// TitleProperty receives the "Run ID" value; defaults to "Name".
	TitleProperty string
	UserName      string
	// Location formats timestamps; defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// Process evaluates every run from src against the already-synced ids. A
// run that fails to map is logged and skipped; only an error from src
// itself is returned.
func (p Processor) Process(src RunSource, existing []string) (Batch, error) {
	synced := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		synced[id] = struct{}{}
	}

	var batch Batch
	for src.Next() {
		run := src.Run()
		out := p.Evaluate(run, synced)
		switch out.Status {
		case StatusMapped:
			batch.Mapped++
		case StatusSkipped:
			batch.Skipped++
		case StatusFailed:
			batch.Failed++
			if p.Logger != nil {
				p.Logger.Error("error processing run",
					slog.String("run_id", run.ID),
					slog.String("error", out.Err.Error()),
				)
			}
		}
		batch.Outcomes = append(batch.Outcomes, out)
	}
	if err := src.Err(); err != nil {
		return batch, fmt.Errorf("fetch runs: %w", err)
	}
	return batch, nil
}

// Evaluate applies the inclusion filter to a single run and maps it when it
// qualifies: finished, not yet synced, and owned by the target user.
func (p Processor) Evaluate(run tracking.Run, synced map[string]struct{}) Outcome {
	out := Outcome{RunID: run.ID}
	if run.State != tracking.StateFinished {
		out.Status, out.Reason = StatusSkipped, ReasonNotFinished
		return out
	}
	if _, ok := synced[run.ID]; ok {
		out.Status, out.Reason = StatusSkipped, ReasonAlreadySynced
		return out
	}
	if run.User != p.UserName {
		out.Status, out.Reason = StatusSkipped, ReasonOtherUser
		return out
	}

	values, err := BuildValues(run, p.Headers, p.location())
	if err != nil {
		out.Status, out.Err = StatusFailed, err
		return out
	}
	out.Status = StatusMapped
	out.Values = values
	out.Properties = BuildProperties(values, p.Headers, p.TitleProperty)
	return out
}

func (p Processor) location() *time.Location {
	if p.Location != nil {
		return p.Location
	}
	return time.Local
}

// BuildValues returns the ordered row values of run: id, timestamp and
// owner, followed by one looked-up value per header beyond the first three.
func BuildValues(run tracking.Run, headers []string, loc *time.Location) ([]string, error) {
	if strings.TrimSpace(run.ID) == "" {
		return nil, ErrMissingRunID
	}
	if run.Err != nil {
		return nil, run.Err
	}
	values := make([]string, 0, max(len(headers), types.FixedHeaderCount))
	values = append(values, run.ID, FormatTimestamp(run.Summary, loc), run.User)
	if len(headers) > types.FixedHeaderCount {
		for _, key := range headers[types.FixedHeaderCount:] {
			v, _ := LookupField(run, key)
			values = append(values, v)
		}
	}
	return values, nil
}

// LookupField resolves key from the run's config, then its summary.
func LookupField(run tracking.Run, key string) (string, bool) {
	if v, ok := run.Config.Lookup(key); ok {
		return v.String(), true
	}
	if v, ok := run.Summary.Lookup(key); ok {
		return v.String(), true
	}
	return "", false
}

// FormatTimestamp renders the summary's _timestamp (epoch seconds) in loc.
// A missing, non-numeric or out-of-range value yields "".
func FormatTimestamp(summary tracking.Fields, loc *time.Location) string {
	secs, ok := summary.Number(tracking.TimestampKey)
	if !ok {
		return ""
	}
	// Years outside 1..9999 do not fit the layout.
	if secs < -62135596800 || secs > 253402300799 {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * float64(time.Second))
	t := time.Unix(whole, nanos).In(loc)
	if y := t.Year(); y < 1 || y > 9999 {
		return ""
	}
	return t.Format(TimestampLayout)
}

// BuildProperties zips headers with values. "Run ID" maps to the title
// property, "Timestamp" to a date property that is omitted when empty, and
// everything else to rich text, set even when empty.
func BuildProperties(values, headers []string, titleProperty string) notion.Properties {
	if titleProperty == "" {
		titleProperty = types.DefaultTitleProperty
	}
	n := min(len(values), len(headers))
	props := make(notion.Properties, n)
	for i := 0; i < n; i++ {
		header, value := headers[i], values[i]
		switch header {
		case types.HeaderRunID:
			props[titleProperty] = notion.TitleValue(truncate(value))
		case types.HeaderTimestamp:
			if value != "" {
				props[header] = notion.DateStartValue(dateStart(value))
			}
		default:
			props[header] = notion.RichTextValue(truncate(value))
		}
	}
	return props
}

// dateStart converts a TimestampLayout value to the ISO-8601 form the
// destination expects. Other values pass through unchanged.
func dateStart(value string) string {
	t, err := time.Parse(TimestampLayout, value)
	if err != nil {
		return value
	}
	return t.Format(dateLayout)
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxTextRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxTextRunes])
}

// Slice adapts a slice of runs to a RunSource.
func Slice(runs ...tracking.Run) RunSource {
	return &sliceSource{runs: runs, pos: -1}
}

type sliceSource struct {
	runs []tracking.Run
	pos  int
}

func (s *sliceSource) Next() bool {
	if s.pos+1 >= len(s.runs) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceSource) Run() tracking.Run { return s.runs[s.pos] }

func (s *sliceSource) Err() error { return nil }
