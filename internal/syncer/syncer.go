// SPDX-License-Identifier: AGPL-3.0-or-later

// Package syncer runs one sync tick: load config, connect, read the rows
// already in the destination, map new runs and create their rows.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowd-org/runsync/internal/events"
	"github.com/flowd-org/runsync/internal/observability/tracing"
	"github.com/flowd-org/runsync/internal/rows"
	"github.com/flowd-org/runsync/internal/tracking"
	"github.com/flowd-org/runsync/internal/types"
)

// ConfigFunc loads the configuration for a tick.
type ConfigFunc func(ctx context.Context) (*types.Config, error)

// ConnectFunc builds the clients for a tick.
type ConnectFunc func(ctx context.Context, databaseID string, cfg *types.Config) (Clients, error)

// Syncer holds what stays fixed across ticks. Config and clients are
// rebuilt on every tick so edits to the config file apply without restart.
type Syncer struct {
	DatabaseID string
	UserName   string
	LoadConfig ConfigFunc
	Connect    ConnectFunc
	Sink       events.Sink
	Logger     *slog.Logger
	// WritePause defaults to DefaultWritePause; negative disables it.
	WritePause time.Duration
	// Location formats run timestamps; defaults to time.Local.
	Location *time.Location

	sleep func(context.Context, time.Duration) error
}

// Result summarises one tick.
type Result struct {
	TickID  string
	Batch   rows.Batch
	Written int
	Summary events.TickSummary
}

// Tick performs one full sync. Runs that fail to map are logged and skipped;
// any other failure aborts the tick and is returned.
func (s *Syncer) Tick(ctx context.Context) (res Result, err error) {
	res.TickID = events.NewTickID()
	ctx, span := tracing.Start(ctx, "sync.tick", tracing.TickID(res.TickID), tracing.DatabaseID(s.DatabaseID))
	defer tracing.End(span, &err)

	logger := s.logger().With(slog.String("tick_id", res.TickID))
	ctx = tracing.WithLogger(ctx, logger)
	sink := s.sink()

	if s.LoadConfig == nil || s.Connect == nil {
		return res, errors.New("syncer: LoadConfig and Connect are required")
	}
	cfg, err := s.LoadConfig(ctx)
	if err != nil {
		return res, err
	}

	sink.EmitTickStart(ctx, events.TickInfo{
		TickID:     res.TickID,
		Scope:      cfg.Scope(),
		DatabaseID: s.DatabaseID,
		StartedAt:  time.Now().UTC(),
	})
	defer func() {
		sink.EmitTickFinish(ctx, res.TickID, res.Summary, err)
	}()

	clients, err := s.Connect(ctx, s.DatabaseID, cfg)
	if err != nil {
		return res, err
	}

	runs := &countingSource{RunSource: clients.Runs.FetchRuns(ctx, tracking.Project{Entity: cfg.TeamName, Name: cfg.ProjectName})}

	existing, err := ExistingRunIDs(ctx, clients.Destination, s.DatabaseID, titleProperty(cfg))
	if err != nil {
		return res, err
	}
	res.Summary.Existing = len(existing)

	processor := rows.Processor{
		Headers:       cfg.FixedHeaders,
		TitleProperty: cfg.TitleProperty,
		UserName:      s.UserName,
		Location:      s.Location,
		Logger:        logger,
	}
	res.Batch, err = processor.Process(runs, existing)
	res.Summary.Fetched = runs.n
	res.Summary.Mapped = res.Batch.Mapped
	res.Summary.Skipped = res.Batch.Skipped
	res.Summary.Failed = res.Batch.Failed
	span.SetAttributes(
		tracing.Int("runs.fetched", runs.n),
		tracing.Int("runs.mapped", res.Batch.Mapped),
	)
	if paged, ok := runs.RunSource.(pagedSource); ok {
		span.SetAttributes(tracing.Int("tracking.pages", paged.Pages()))
	}
	for _, out := range res.Batch.Outcomes {
		if out.Status == rows.StatusFailed {
			sink.EmitRowFailed(ctx, res.TickID, out.RunID, out.Err)
		}
	}
	if err != nil {
		return res, err
	}

	if res.Batch.Mapped == 0 {
		logger.Info("No new runs to add")
		return res, nil
	}
	logger.Debug("runs to add", slog.Any("run_ids", res.Batch.MappedRunIDs()))

	writer := &Writer{
		Destination: clients.Destination,
		DatabaseID:  s.DatabaseID,
		Pause:       s.pause(),
		Sink:        sink,
		TickID:      res.TickID,
		sleep:       s.sleep,
	}
	res.Written, err = writer.Write(ctx, res.Batch.Outcomes)
	res.Summary.Written = res.Written
	if err != nil {
		return res, err
	}
	logger.Info(fmt.Sprintf("Successfully added %d new runs", res.Written), slog.Int("written", res.Written))
	return res, nil
}

func (s *Syncer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Syncer) sink() events.Sink {
	if s.Sink != nil {
		return s.Sink
	}
	return events.NewCompositeSink()
}

func (s *Syncer) pause() time.Duration {
	switch {
	case s.WritePause < 0:
		return 0
	case s.WritePause == 0:
		return DefaultWritePause
	default:
		return s.WritePause
	}
}

func titleProperty(cfg *types.Config) string {
	if cfg.TitleProperty != "" {
		return cfg.TitleProperty
	}
	return types.DefaultTitleProperty
}

// pagedSource is implemented by sources that fetch in pages.
type pagedSource interface {
	Pages() int
}

type countingSource struct {
	rows.RunSource
	n int
}

func (c *countingSource) Next() bool {
	if !c.RunSource.Next() {
		return false
	}
	c.n++
	return true
}
