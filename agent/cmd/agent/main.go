package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/agent/internal/runner"
	"github.com/speedscope/speedscope/agent/internal/scheduler"
	"github.com/speedscope/speedscope/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("speedscope-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"id", cfg.Agent.ID,
		"provider", cfg.Agent.Provider.Type,
		"probe", cfg.Agent.Probe.Mode,
		"schedule", cfg.Agent.Schedule,
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"history_file", cfg.Agent.HistoryFile,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Ship every record when a server is configured; otherwise the agent is
	// standalone and only keeps the local history file.
	var sinks []runner.Sink
	if cfg.Agent.ServerEndpoint != "" {
		ship := shipper.New(cfg.Agent)
		go ship.Run(ctx)
		sinks = append(sinks, func(o runner.Outcome) { ship.Ship(o.Record) })
	} else {
		slog.Warn("no server_endpoint configured, running standalone")
	}

	run, err := runner.FromConfig(cfg.Agent, sinks...)
	if err != nil {
		slog.Error("failed to build runner", "err", err)
		os.Exit(1)
	}

	sched := scheduler.New(func(ctx context.Context) {
		if _, err := run.Run(ctx); err != nil && !errors.Is(err, runner.ErrBusy) {
			slog.Error("speed test failed", "err", err)
		}
	})
	if err := sched.Start(ctx, cfg.Agent.Schedule, cfg.Agent.RunOnStart); err != nil {
		slog.Error("failed to start scheduler", "err", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Hot reload applies the schedule; provider, probe and server settings
	// take effect on restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			if err := sched.Reschedule(updated.Agent.Schedule); err != nil {
				slog.Error("config reload: invalid schedule, keeping previous",
					"schedule", updated.Agent.Schedule, "err", err)
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("speedscope-agent shutting down")
}
