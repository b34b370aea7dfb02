package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crewmesh/overseer/internal/agents"
	"github.com/crewmesh/overseer/internal/channels/telegram"
	"github.com/crewmesh/overseer/internal/config"
	"github.com/crewmesh/overseer/internal/goc"
	"github.com/crewmesh/overseer/internal/jobs"
	"github.com/crewmesh/overseer/internal/lock"
	"github.com/crewmesh/overseer/internal/providers"
	"github.com/crewmesh/overseer/internal/session"
	"github.com/crewmesh/overseer/internal/supervisor"
	"github.com/crewmesh/overseer/internal/tracing"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the supervisor gateway (Telegram long polling)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Verbose = true
	}

	held, err := lock.Acquire(cfg.BaseDir)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			slog.Error("another overseer instance is running", "error", err)
		} else {
			slog.Error("failed to acquire instance lock", "error", err)
		}
		os.Exit(1)
	}
	defer held.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "overseer", Version)
	if err != nil {
		slog.Warn("tracing init failed", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	sessions, err := session.NewStore(cfg.BaseDir)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}

	// Knowledge-store wiring is optional: without an API base the
	// supervisor runs in local memory mode.
	var (
		mapper   *goc.Mapper
		registry *agents.Registry
	)
	if cfg.MemoryMode == "goc" && cfg.Goc.APIBase != "" {
		client := goc.NewClient(cfg.Goc.APIBase, cfg.Goc.ServiceKey)
		if cfg.Goc.Debug {
			client.SetDebug(true)
		}
		mapper = goc.NewMapper(client, cfg.BaseDir, goc.MapperConfig{
			JobThreadTitlePrefix: cfg.Goc.JobThreadTitlePrefix,
			TrackingChunkMaxLen:  cfg.Goc.TrackingChunkMaxLen,
			AutoActivateProgress: cfg.Goc.AutoActivateProgress,
			UIBase:               cfg.Goc.UIBase,
			UITokenTTLSec:        cfg.Goc.UITokenTTLSec,
		})
		registry = agents.NewRegistry(mapper)
		slog.Info("knowledge store connected", "base", cfg.Goc.APIBase)
	} else {
		slog.Info("running in local memory mode")
	}

	jobStore, err := jobs.NewStore(cfg.RunsDir, mapper)
	if err != nil {
		slog.Error("failed to open job store", "error", err)
		os.Exit(1)
	}

	provs := providers.NewSet(cfg.ProviderCommands())
	if len(provs) == 0 {
		slog.Warn("no providers configured, runs will use deterministic routing only")
	}

	sup := supervisor.New(supervisor.Options{
		Config:    cfg,
		Sessions:  sessions,
		Jobs:      jobStore,
		Mapper:    mapper,
		Registry:  registry,
		Providers: provs,
	})
	sup.ApplySettings(config.LoadSettings(cfg.BaseDir))

	// Live-reload settings.md edits into the running policy.
	watchStop := make(chan struct{})
	defer close(watchStop)
	go func() {
		if err := config.WatchSettings(cfg.BaseDir, watchStop, sup.ApplySettings); err != nil {
			slog.Warn("settings watcher failed", "error", err)
		}
	}()

	channel, err := telegram.New(cfg.Telegram, sup)
	if err != nil {
		slog.Error("failed to build telegram channel", "error", err)
		os.Exit(1)
	}
	sup.SetSender(channel)

	if err := channel.Start(ctx); err != nil {
		slog.Error("failed to start telegram channel", "error", err)
		os.Exit(1)
	}
	slog.Info("overseer gateway running", "version", Version, "base", cfg.BaseDir)

	<-ctx.Done()
	slog.Info("shutting down")
	if err := channel.Stop(context.Background()); err != nil {
		slog.Warn("channel stop failed", "error", err)
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List jobs in the workspace",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintln(os.Stderr, "config:", err)
				os.Exit(1)
			}
			store, err := jobs.NewStore(cfg.RunsDir, nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, "jobs:", err)
				os.Exit(1)
			}
			list, err := store.ListJobs()
			if err != nil {
				fmt.Fprintln(os.Stderr, "jobs:", err)
				os.Exit(1)
			}
			for _, meta := range list {
				fmt.Printf("%s  %s  %s\n", meta.JobID, meta.CreatedAt.Format("2006-01-02 15:04"), meta.Title)
			}
		},
	}
}
