// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import "context"

// Sink represents something that can consume tick events.
type Sink interface {
	EmitTickStart(ctx context.Context, tick TickInfo)
	EmitRowWritten(ctx context.Context, tickID, runID string)
	EmitRowFailed(ctx context.Context, tickID, runID string, err error)
	EmitTickFinish(ctx context.Context, tickID string, summary TickSummary, err error)
}

// CompositeSink fan-outs emitted events to multiple sinks.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink returns a sink that forwards events to all provided
// sinks. Nil sinks, including typed nil pointers, are dropped; with none
// left the result is a no-op sink.
func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if isNil(s) {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeSink{sinks: filtered}
}

func isNil(s Sink) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *LogSink:
		return v == nil
	case *JournalSink:
		return v == nil
	default:
		return false
	}
}

func (c *CompositeSink) EmitTickStart(ctx context.Context, tick TickInfo) {
	for _, s := range c.sinks {
		s.EmitTickStart(ctx, tick)
	}
}

func (c *CompositeSink) EmitRowWritten(ctx context.Context, tickID, runID string) {
	for _, s := range c.sinks {
		s.EmitRowWritten(ctx, tickID, runID)
	}
}

func (c *CompositeSink) EmitRowFailed(ctx context.Context, tickID, runID string, err error) {
	for _, s := range c.sinks {
		s.EmitRowFailed(ctx, tickID, runID, err)
	}
}

func (c *CompositeSink) EmitTickFinish(ctx context.Context, tickID string, summary TickSummary, err error) {
	for _, s := range c.sinks {
		s.EmitTickFinish(ctx, tickID, summary, err)
	}
}
