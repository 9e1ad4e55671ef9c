// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowd-org/runsync/internal/observability/tracing"
)

// Tick statuses.
const (
	TickRunning   = "running"
	TickSucceeded = "succeeded"
	TickFailed    = "failed"
)

// Row outcomes.
const (
	RowWritten = "written"
	RowFailed  = "failed"
)

// TickRecord is one persisted sync tick.
type TickRecord struct {
	TickID     string
	Scope      string
	DatabaseID string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Fetched    int
	Existing   int
	Mapped     int
	Skipped    int
	Failed     int
	Written    int
	Error      string
}

// RowRecord is one run handled by a tick.
type RowRecord struct {
	Seq       int64
	TickID    string
	RunID     string
	Outcome   string
	Detail    string
	Timestamp time.Time
}

// Journal provides append-only tick history backed by the DB.
type Journal struct {
	db     *sql.DB
	retain int
	nowFn  func() time.Time
}

// NewJournal returns a Journal backed by db, or nil when db is nil. A nil
// Journal accepts every call and records nothing.
func NewJournal(db *DB) *Journal {
	if db == nil {
		return nil
	}
	return &Journal{
		db:     db.sql,
		retain: db.opts.RetainTicks,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// BeginTick stores a running tick and evicts the oldest ticks beyond the
// retention count, together with their rows.
func (j *Journal) BeginTick(ctx context.Context, rec TickRecord) (err error) {
	if j == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "coredb.journal.begin_tick",
		tracing.PersistOp("begin_tick"),
		tracing.TickID(rec.TickID),
	)
	defer tracing.End(span, &err)

	if rec.TickID == "" {
		return fmt.Errorf("begin tick: tick id required")
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = j.nowFn()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
INSERT INTO sync_ticks (tick_id, scope, database_id, started_at, status)
VALUES (?, ?, ?, ?, ?)
`, rec.TickID, rec.Scope, rec.DatabaseID, started.UnixMilli(), TickRunning); err != nil {
		return fmt.Errorf("journal insert tick: %w", err)
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
DELETE FROM sync_ticks WHERE tick_id IN (
	SELECT tick_id FROM sync_ticks ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?
)`, j.retain)
	if err != nil {
		return fmt.Errorf("journal eviction: %w", err)
	}
	if evicted, _ := res.RowsAffected(); evicted > 0 && span != nil {
		span.SetAttributes(tracing.Int64("journal.evicted_ticks", evicted))
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}
	return nil
}

// RecordRow appends the outcome of one run to a tick.
func (j *Journal) RecordRow(ctx context.Context, tickID, runID, outcome, detail string) error {
	if j == nil {
		return nil
	}
	if _, err := j.db.ExecContext(ctx, `
INSERT INTO sync_rows (tick_id, run_id, outcome, detail, ts)
VALUES (?, ?, ?, ?, ?)
`, tickID, runID, outcome, detail, j.nowFn().UnixMilli()); err != nil {
		return fmt.Errorf("journal insert row: %w", err)
	}
	return nil
}

// FinishTick stores the final status and counters of a tick.
func (j *Journal) FinishTick(ctx context.Context, rec TickRecord) (err error) {
	if j == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "coredb.journal.finish_tick",
		tracing.PersistOp("finish_tick"),
		tracing.TickID(rec.TickID),
	)
	defer tracing.End(span, &err)

	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = j.nowFn()
	}
	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}
	res, err := j.db.ExecContext(ctx, `
UPDATE sync_ticks
SET finished_at = ?, status = ?, fetched = ?, existing = ?, mapped = ?,
    skipped = ?, failed = ?, written = ?, error = ?
WHERE tick_id = ?
`, finished.UnixMilli(), rec.Status, rec.Fetched, rec.Existing, rec.Mapped,
		rec.Skipped, rec.Failed, rec.Written, errText, rec.TickID)
	if err != nil {
		return fmt.Errorf("journal finish tick: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal finish tick %s: %w", rec.TickID, sql.ErrNoRows)
	}
	return nil
}

// RecentTicks returns up to limit ticks, newest first.
func (j *Journal) RecentTicks(ctx context.Context, limit int) ([]TickRecord, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = j.retain
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT tick_id, scope, database_id, started_at, COALESCE(finished_at, 0), status,
       fetched, existing, mapped, skipped, failed, written, COALESCE(error, '')
FROM sync_ticks
ORDER BY started_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var rec TickRecord
		var started, finished int64
		if err := rows.Scan(&rec.TickID, &rec.Scope, &rec.DatabaseID, &started, &finished, &rec.Status,
			&rec.Fetched, &rec.Existing, &rec.Mapped, &rec.Skipped, &rec.Failed, &rec.Written, &rec.Error); err != nil {
			return nil, fmt.Errorf("journal scan tick: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started).UTC()
		if finished > 0 {
			rec.FinishedAt = time.UnixMilli(finished).UTC()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal rows: %w", err)
	}
	return out, nil
}

// ForEachRow streams the rows of a tick in insertion order. Iteration halts
// if the callback returns an error.
func (j *Journal) ForEachRow(ctx context.Context, tickID string, fn func(RowRecord) error) error {
	if j == nil || fn == nil {
		return nil
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT seq, run_id, outcome, COALESCE(detail, ''), ts
FROM sync_rows
WHERE tick_id = ?
ORDER BY seq ASC
`, tickID)
	if err != nil {
		return fmt.Errorf("journal query rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := RowRecord{TickID: tickID}
		var ts int64
		if err := rows.Scan(&rec.Seq, &rec.RunID, &rec.Outcome, &rec.Detail, &ts); err != nil {
			return fmt.Errorf("journal scan row: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ts).UTC()
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("journal rows: %w", err)
	}
	return nil
}

// ErrTickNotFound is returned by LastTick when the journal is empty.
var ErrTickNotFound = errors.New("coredb: no ticks recorded")

// LastTick returns the newest tick.
func (j *Journal) LastTick(ctx context.Context) (TickRecord, error) {
	ticks, err := j.RecentTicks(ctx, 1)
	if err != nil {
		return TickRecord{}, err
	}
	if len(ticks) == 0 {
		return TickRecord{}, ErrTickNotFound
	}
	return ticks[0], nil
}
