// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/flowd-org/runsync/internal/events"
	"github.com/flowd-org/runsync/internal/notion"
	"github.com/flowd-org/runsync/internal/observability/tracing"
	"github.com/flowd-org/runsync/internal/rows"
)

// DefaultWritePause is the fixed delay between page creations.
const DefaultWritePause = 500 * time.Millisecond

// Writer creates destination rows one at a time.
type Writer struct {
	Destination Destination
	DatabaseID  string
	// Pause separates consecutive creations.
	Pause  time.Duration
	Sink   events.Sink
	TickID string

	sleep func(context.Context, time.Duration) error
}

// Write creates one page per mapped outcome, in order. The first failure
// stops the batch; pages created before it stay. It returns the number of
// pages created.
func (w *Writer) Write(ctx context.Context, outcomes []rows.Outcome) (int, error) {
	sleep := w.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	written := 0
	for _, out := range outcomes {
		if out.Status != rows.StatusMapped {
			continue
		}
		if written > 0 {
			if err := sleep(ctx, w.Pause); err != nil {
				return written, err
			}
		}
		rowCtx, span := tracing.Start(ctx, "sync.write_row", tracing.RunID(out.RunID))
		_, err := w.Destination.CreatePage(rowCtx, notion.CreatePageRequest{
			Parent:     notion.Parent{DatabaseID: w.DatabaseID},
			Properties: out.Properties,
		})
		tracing.End(span, &err)
		if err != nil {
			if w.Sink != nil {
				w.Sink.EmitRowFailed(ctx, w.TickID, out.RunID, err)
			}
			return written, &notion.Error{Op: fmt.Sprintf("sync run %s", out.RunID), Err: err}
		}
		written++
		if w.Sink != nil {
			w.Sink.EmitRowWritten(ctx, w.TickID, out.RunID)
		}
	}
	return written, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
