// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	TypeTickStart   = "tick.start"
	TypeRowWritten  = "row.written"
	TypeRowFailed   = "row.failed"
	TypeTickFinish  = "tick.finish"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// TickInfo identifies a tick when it starts.
type TickInfo struct {
	TickID     string
	Scope      string
	DatabaseID string
	StartedAt  time.Time
}

// TickSummary carries the counters of a finished tick.
type TickSummary struct {
	Fetched  int
	Existing int
	Mapped   int
	Skipped  int
	Failed   int
	Written  int
}

// NewTickID returns a fresh tick identifier.
func NewTickID() string {
	return "tick-" + uuid.NewString()
}

// LogSink reports tick events through slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or nil when logger is nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		return nil
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) EmitTickStart(_ context.Context, tick TickInfo) {
	s.logger.Debug(TypeTickStart,
		slog.String("tick_id", tick.TickID),
		slog.String("scope", tick.Scope),
		slog.String("database_id", tick.DatabaseID),
	)
}

func (s *LogSink) EmitRowWritten(_ context.Context, tickID, runID string) {
	s.logger.Debug(TypeRowWritten, slog.String("tick_id", tickID), slog.String("run_id", runID))
}

func (s *LogSink) EmitRowFailed(_ context.Context, tickID, runID string, err error) {
	s.logger.Warn(TypeRowFailed,
		slog.String("tick_id", tickID),
		slog.String("run_id", runID),
		slog.String("error", errString(err)),
	)
}

func (s *LogSink) EmitTickFinish(_ context.Context, tickID string, summary TickSummary, err error) {
	attrs := []any{
		slog.String("tick_id", tickID),
		slog.Int("fetched", summary.Fetched),
		slog.Int("existing", summary.Existing),
		slog.Int("mapped", summary.Mapped),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int("written", summary.Written),
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", StatusFailed))
	} else {
		attrs = append(attrs, slog.String("status", StatusSucceeded))
	}
	s.logger.Debug(TypeTickFinish, attrs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
