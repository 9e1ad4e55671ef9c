// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"context"
	"log/slog"

	"github.com/flowd-org/runsync/internal/coredb"
)

// JournalSink persists tick events to the local journal. Journal failures
// are logged and never reach the tick.
type JournalSink struct {
	journal *coredb.Journal
	logger  *slog.Logger
}

// NewJournalSink returns a sink over journal, or nil when journal is nil.
func NewJournalSink(journal *coredb.Journal, logger *slog.Logger) *JournalSink {
	if journal == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalSink{journal: journal, logger: logger}
}

func (s *JournalSink) EmitTickStart(ctx context.Context, tick TickInfo) {
	s.report(tick.TickID, s.journal.BeginTick(ctx, coredb.TickRecord{
		TickID:     tick.TickID,
		Scope:      tick.Scope,
		DatabaseID: tick.DatabaseID,
		StartedAt:  tick.StartedAt,
	}))
}

func (s *JournalSink) EmitRowWritten(ctx context.Context, tickID, runID string) {
	s.report(tickID, s.journal.RecordRow(ctx, tickID, runID, coredb.RowWritten, ""))
}

func (s *JournalSink) EmitRowFailed(ctx context.Context, tickID, runID string, err error) {
	s.report(tickID, s.journal.RecordRow(ctx, tickID, runID, coredb.RowFailed, errString(err)))
}

func (s *JournalSink) EmitTickFinish(ctx context.Context, tickID string, summary TickSummary, err error) {
	rec := coredb.TickRecord{
		TickID:   tickID,
		Status:   coredb.TickSucceeded,
		Fetched:  summary.Fetched,
		Existing: summary.Existing,
		Mapped:   summary.Mapped,
		Skipped:  summary.Skipped,
		Failed:   summary.Failed,
		Written:  summary.Written,
	}
	if err != nil {
		rec.Status = coredb.TickFailed
		rec.Error = err.Error()
	}
	// Record the outcome even when the tick was cancelled.
	s.report(tickID, s.journal.FinishTick(context.WithoutCancel(ctx), rec))
}

func (s *JournalSink) report(tickID string, err error) {
	if err == nil {
		return
	}
	msg := "journal write failed"
	if coredb.IsQuotaExceeded(err) {
		msg = "journal full; history not recorded"
	}
	s.logger.Warn(msg, slog.String("tick_id", tickID), slog.String("error", err.Error()))
}
