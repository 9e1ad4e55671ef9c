// SPDX-License-Identifier: AGPL-3.0-or-later

package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Attribute represents a key/value pair attached to a span.
type Attribute struct {
	Key   string
	Value any
}

// Well-known attribute keys shared by the sync pipeline.
const (
	AttrTickID     = "tick_id"
	AttrRunID      = "run_id"
	AttrDatabaseID = "notion.database_id"
	AttrPersistOp  = "persist.op"
	AttrHTTPStatus = "http.status"
)

// String returns a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int returns an integer attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 returns an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// TickID returns an attribute describing the tick identifier.
func TickID(value string) Attribute {
	if value == "" {
		return Attribute{}
	}
	return String(AttrTickID, value)
}

// RunID returns an attribute describing the tracked run identifier.
func RunID(value string) Attribute {
	if value == "" {
		return Attribute{}
	}
	return String(AttrRunID, value)
}

// DatabaseID returns an attribute describing the destination database.
func DatabaseID(value string) Attribute {
	return String(AttrDatabaseID, value)
}

// PersistOp returns an attribute describing a journal operation.
func PersistOp(value string) Attribute {
	return String(AttrPersistOp, value)
}

// HTTPStatus returns an attribute carrying a response status code.
func HTTPStatus(code int) Attribute {
	return Int(AttrHTTPStatus, code)
}

type spanKey struct{}
type loggerKey struct{}

// WithLogger attaches a logger used by spans started from ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the logger stored on ctx, or nil.
func Logger(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey{}).(*slog.Logger)
	return logger
}

// Span represents a lightweight tracing span backed by structured logging.
type Span struct {
	name   string
	start  time.Time
	logger *slog.Logger

	mu    sync.Mutex
	attrs map[string]any
	err   error
	ended bool
}

// Start begins a new span anchored to the supplied context.
func Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := Logger(ctx)
	if logger == nil {
		logger = slog.Default()
	}

	span := &Span{
		name:   name,
		start:  time.Now(),
		logger: logger,
		attrs:  make(map[string]any),
	}
	if parent := FromContext(ctx); parent != nil {
		span.attrs["parent"] = parent.name
	}
	span.SetAttributes(attrs...)

	ctx = context.WithValue(ctx, spanKey{}, span)
	return ctx, span
}

// FromContext extracts a span from the supplied context, if present.
func FromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// SetAttributes appends new attributes to the span.
func (s *Span) SetAttributes(attrs ...Attribute) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		s.attrs[attr.Key] = attr.Value
	}
}

// RecordError records the supplied error against the span.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// End completes the span and emits a structured log line with duration and attributes.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	duration := time.Since(s.start)
	err := s.err
	attrs := make(map[string]any, len(s.attrs)+2)
	for k, v := range s.attrs {
		attrs[k] = v
	}
	s.ended = true
	s.mu.Unlock()

	attrs["span"] = s.name
	attrs["duration_ms"] = float64(duration.Microseconds()) / 1000.0

	var logAttrs []any
	for k, v := range attrs {
		logAttrs = append(logAttrs, slog.Any(k, v))
	}
	// Failures are reported at the tick boundary; spans only carry them.
	if err != nil {
		logAttrs = append(logAttrs, slog.String("error", err.Error()))
	}
	s.logger.Debug("trace.span_end", logAttrs...)
}

// End observes the error pointer (if non-nil) and finalises the span.
func End(span *Span, errPtr *error, attrs ...Attribute) {
	if span == nil {
		return
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if errPtr != nil && *errPtr != nil {
		span.RecordError(*errPtr)
	}
	span.End()
}
