package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/agent/internal/mcp"
	"github.com/speedscope/speedscope/agent/internal/runner"
	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/history"
	"github.com/speedscope/speedscope/pkg/types"
)

func newMCPCmd() *cobra.Command {
	var (
		configPath  string
		historyFile string
		missing     string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start Model Context Protocol (MCP) server",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
AI assistants can score measurements, read the history summary and, when
--config is given, trigger a speed test.

Communication happens over standard input/output (stdio).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := mcp.Options{Scorer: health.NewScorer(health.DefaultWeights), MissingMetrics: missing}
			if historyFile != "" {
				opts.History = history.Open(historyFile)
			}
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				r, err := runner.FromConfig(cfg.Agent)
				if err != nil {
					return err
				}
				opts.Runner = r
				if !cmd.Flags().Changed("missing-metrics") {
					opts.MissingMetrics = cfg.Agent.MissingMetrics
				}
				if opts.History == nil && cfg.Agent.HistoryEnabled() {
					opts.History = history.Open(cfg.Agent.HistoryFile)
				}
			}

			ctx, stop := signalContext()
			defer stop()

			srv := mcp.NewServer(version, opts)
			return srv.Start(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Agent config file; enables run_speed_test")
	cmd.Flags().StringVarP(&historyFile, "history", "f", "", "History file for history_summary")
	cmd.Flags().StringVar(&missing, "missing-metrics", types.MissingZero, "Policy for history records without jitter or packet loss (zero|reject)")
	return cmd
}
