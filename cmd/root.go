// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowd-org/runsync/internal/configloader"
	"github.com/flowd-org/runsync/internal/coredb"
	"github.com/flowd-org/runsync/internal/events"
	"github.com/flowd-org/runsync/internal/logging"
	"github.com/flowd-org/runsync/internal/paths"
	"github.com/flowd-org/runsync/internal/scheduler"
	"github.com/flowd-org/runsync/internal/syncer"
	"github.com/flowd-org/runsync/internal/tracking"
	"github.com/flowd-org/runsync/internal/types"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Environment overrides for service endpoints and credentials.
const (
	envAPIKey          = "WANDB_API_KEY"
	envTrackingBaseURL = "WANDB_BASE_URL"
	envNotionBaseURL   = "NOTION_BASE_URL"
)

type rootOptions struct {
	args      types.Arguments
	logFormat string
	logFile   string
	once      bool
	runNow    bool
	journal   bool
	dataDir   string
	verbose   int
}

// NewRootCmd builds the runsync command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "runsync",
		Short:         "Periodically copy finished W&B runs into a Notion database",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, opts)
		},
	}

	registerFlags(cmd.Flags(), opts)
	_ = cmd.MarkFlagRequired("database_id")

	return cmd
}

func registerFlags(flags *pflag.FlagSet, opts *rootOptions) {
	flags.IntVar(&opts.args.ScheduleMinutes, "schedule_time", types.DefaultScheduleMinutes, "Schedule interval in minutes")
	flags.StringVar(&opts.args.UserName, "user_name", types.DefaultUserName, "W&B user whose runs are synced")
	flags.StringVar(&opts.args.DatabaseID, "database_id", "", "Notion database ID")
	flags.StringVar(&opts.args.ConfigPath, "config_path", types.DefaultConfigPath, "Path to the config file (JSON or YAML)")
	flags.StringVar(&opts.args.Entity, "entity", "", "W&B entity; overrides WANDB_ENTITY")
	flags.StringVar(&opts.args.Project, "project", "", "W&B project; overrides WANDB_PROJECT")
	flags.StringVar(&opts.logFormat, "log", "text", "Log output format (text|json)")
	flags.StringVar(&opts.logFile, "log_file", types.DefaultLogFile, "Append-only log file; empty disables it")
	flags.BoolVar(&opts.once, "once", false, "Run a single sync and exit")
	flags.BoolVar(&opts.runNow, "run_now", false, "Run the first sync at start instead of after one interval")
	flags.BoolVar(&opts.journal, "journal", true, "Record tick history in the local journal")
	flags.StringVar(&opts.dataDir, "data_dir", "", "Directory for the tick journal; overrides DATA_DIR")
	flags.CountVarP(&opts.verbose, "verbose", "v", "Increase verbosity")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		paths.SetDataDirOverride(dataDir)
	}
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	args := opts.args
	args.DatabaseID = strings.TrimSpace(args.DatabaseID)
	if args.DatabaseID == "" {
		return fmt.Errorf("--database_id must not be empty")
	}
	if args.ScheduleMinutes <= 0 {
		return fmt.Errorf("--schedule_time must be positive, got %d", args.ScheduleMinutes)
	}
	if opts.dataDir != "" {
		paths.SetDataDirOverride(opts.dataDir)
	}

	// Credentials and endpoints may live in .env; seed it before reading them.
	dotEnvErr := configloader.LoadDotEnv(args.ConfigPath)
	logger, closer, err := logging.New(logging.Options{
		Format:    opts.logFormat,
		Console:   cmd.ErrOrStderr(),
		FilePath:  opts.logFile,
		Verbosity: opts.verbose,
		Secrets:   append(configloader.Secrets(args.ConfigPath), os.Getenv(envAPIKey)),
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	if dotEnvErr != nil {
		logger.Warn("env file not loaded", slog.String("error", dotEnvErr.Error()))
	}

	logger.Info(fmt.Sprintf("Starting sync process (Schedule: every %d minutes)", args.ScheduleMinutes))
	logger.Info(fmt.Sprintf("Monitoring runs for user: %s", args.UserName))

	sinks := []events.Sink{events.NewLogSink(logger)}
	if opts.journal {
		db, err := coredb.Open(ctx, coredb.Options{DataDir: paths.DataDir()})
		if err != nil {
			logger.Warn("journal unavailable; continuing without tick history", slog.String("error", err.Error()))
		} else {
			defer db.Close()
			if stats, err := coredb.CollectStorageStats(ctx, db); err == nil {
				logger.Debug("journal opened",
					slog.String("path", db.Path()),
					slog.Int64("ticks", stats.Ticks),
					slog.Int64("bytes_used", stats.BytesUsed),
				)
			}
			sinks = append(sinks, events.NewJournalSink(coredb.NewJournal(db), logger))
		}
	}

	s := newSyncer(args, logger, events.NewCompositeSink(sinks...))
	if opts.once {
		if _, err := s.Tick(ctx); err != nil {
			logger.Error("Error in main sync process", slog.String("error", err.Error()))
			return err
		}
		return nil
	}

	loop := &scheduler.Loop{
		Interval: args.Interval(),
		RunNow:   opts.runNow,
		Logger:   logger,
		Tick: func(ctx context.Context) error {
			_, err := s.Tick(ctx)
			return err
		},
	}
	return loop.Run(ctx)
}

func newSyncer(args types.Arguments, logger *slog.Logger, sink events.Sink) *syncer.Syncer {
	resolver := tracking.ResolverChain{
		tracking.StaticProject{Entity: args.Entity, Name: args.Project},
		tracking.EnvProject{},
	}
	return &syncer.Syncer{
		DatabaseID: args.DatabaseID,
		UserName:   args.UserName,
		Sink:       sink,
		Logger:     logger,
		LoadConfig: func(ctx context.Context) (*types.Config, error) {
			return configloader.LoadConfig(ctx, args.ConfigPath, configloader.Options{
				Resolver: resolver,
				Logger:   logger,
			})
		},
		// Read per tick: LoadConfig re-seeds .env before Connect runs.
		Connect: func(ctx context.Context, databaseID string, cfg *types.Config) (syncer.Clients, error) {
			return syncer.Init(ctx, databaseID, cfg, syncer.InitOptions{
				NotionBaseURL:   os.Getenv(envNotionBaseURL),
				TrackingBaseURL: os.Getenv(envTrackingBaseURL),
				TrackingAPIKey:  os.Getenv(envAPIKey),
			})
		},
	}
}
