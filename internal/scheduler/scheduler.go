// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler drives a tick function at a fixed interval until the
// context is cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	DefaultPollInterval = time.Second
	DefaultBackoff      = time.Minute
)

// State is the lifecycle state of a Loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TickFunc performs one unit of scheduled work.
type TickFunc func(ctx context.Context) error

// PanicError wraps a value recovered from a panicking tick.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tick panicked: %v", e.Value)
}

// Loop runs Tick every Interval. Errors returned by Tick are logged and the
// loop waits for the next slot; a panic backs off and retries the same slot.
type Loop struct {
	Interval time.Duration
	Tick     TickFunc
	Logger   *slog.Logger
	// RunNow makes the first tick due at start instead of one interval later.
	RunNow       bool
	PollInterval time.Duration
	Backoff      time.Duration

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	state atomic.Int32
}

// State reports the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run blocks until ctx is cancelled. It returns nil on cancellation and an
// error only for an unusable configuration.
func (l *Loop) Run(ctx context.Context) error {
	if l.Interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", l.Interval)
	}
	if l.Tick == nil {
		return errors.New("scheduler: tick function is required")
	}
	now, sleep, logger := l.now(), l.sleep(), l.logger()
	poll, backoff := l.PollInterval, l.Backoff
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	l.state.Store(int32(StateIdle))
	defer l.state.Store(int32(StateStopped))

	next := now().Add(l.Interval)
	if l.RunNow {
		next = now()
	}
	for {
		if ctx.Err() != nil {
			logger.Info("Sync process stopped")
			return nil
		}
		if started := now(); !started.Before(next) {
			l.state.Store(int32(StateRunning))
			err := l.runTick(ctx)
			l.state.Store(int32(StateIdle))

			var perr *PanicError
			switch {
			case errors.As(err, &perr):
				logger.Error("Unexpected error", slog.String("error", err.Error()))
				_ = sleep(ctx, backoff)
				continue
			case err != nil && ctx.Err() == nil:
				logger.Error("Error in main sync process", slog.String("error", err.Error()))
			}
			next = started.Add(l.Interval)
		}
		// A cancelled sleep is picked up at the top of the loop.
		_ = sleep(ctx, poll)
	}
}

func (l *Loop) runTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return l.Tick(ctx)
}

func (l *Loop) now() func() time.Time {
	if l.Now != nil {
		return l.Now
	}
	return time.Now
}

func (l *Loop) sleep() func(context.Context, time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep
	}
	return sleepContext
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
