// Command speedscopectl is the command-line companion to the speedscope agent.
//
// Scores individual measurements, summarises a local history file, runs a
// one-off speed test from an agent config and serves the same operations to
// AI assistants over the Model Context Protocol.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/agent/internal/runner"
	"github.com/speedscope/speedscope/pkg/analysis"
	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/history"
	"github.com/speedscope/speedscope/pkg/types"
)

var (
	version = "0.1.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "speedscopectl",
		Short: "Score, inspect and run internet speed tests",
		Long: `speedscopectl is the companion CLI for the speedscope agent.

Computes the 0-100 network health score and advisories for a measurement,
summarises the local speed_history.json file (ISP averages, consistency,
moving averages) and runs single speed tests using an agent config.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")

	rootCmd.AddCommand(newScoreCmd(), newHistoryCmd(), newRunCmd(), newMCPCmd())
	return rootCmd
}

// --- score command ---

func newScoreCmd() *cobra.Command {
	var (
		m      health.Measurement
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one measurement",
		Long:  "Compute the health score, state and advisories for the given metrics. No network access.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep := health.Evaluate(m)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&m.DownloadMbps, "download", 0, "Download speed in Mbps")
	f.Float64Var(&m.UploadMbps, "upload", 0, "Upload speed in Mbps")
	f.Float64Var(&m.PingMs, "ping", 0, "Latency in ms")
	f.Float64Var(&m.JitterMs, "jitter", 0, "Jitter in ms")
	f.Float64Var(&m.PacketLossPct, "packet-loss", 0, "Packet loss in percent (0-100)")
	f.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("download")
	_ = cmd.MarkFlagRequired("upload")
	_ = cmd.MarkFlagRequired("ping")
	return cmd
}

// --- history command ---

// historyReport is the output of the history command.
type historyReport struct {
	File         string                `json:"file"`
	ISP          *types.ISPInfo        `json:"isp,omitempty"`
	Metrics      analysis.ISPMetrics   `json:"isp_metrics"`
	Recent       []types.Record        `json:"recent"`
	Trends       []analysis.TrendPoint `json:"trends"`
	LatestReport *health.Report        `json:"latest_report,omitempty"`
}

func newHistoryCmd() *cobra.Command {
	var (
		file    string
		recent  int
		window  int
		missing string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Summarise a speed-test history file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if missing != types.MissingZero && missing != types.MissingReject {
				return fmt.Errorf("--missing-metrics: unknown policy %q, want zero|reject", missing)
			}
			recs, err := history.Open(file).Load()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summarize(file, recs, recent, window, missing))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", history.DefaultFile, "History file path")
	cmd.Flags().IntVar(&recent, "recent", analysis.DefaultRecent, "Number of recent tests to show")
	cmd.Flags().IntVar(&window, "window", analysis.DefaultTrendWindow, "Moving-average window")
	cmd.Flags().StringVar(&missing, "missing-metrics", types.MissingZero,
		"Policy for records without jitter or packet loss: zero scores them, reject leaves them unscored")
	return cmd
}

func summarize(file string, recs []types.Record, recent, window int, missing string) historyReport {
	out := historyReport{
		File:    file,
		Metrics: analysis.Summarize(recs),
		Recent:  analysis.Recent(recs, recent),
		Trends:  analysis.Trends(recs, window),
	}
	if len(recs) > 0 {
		last := recs[len(recs)-1]
		info := last.ISPInfo()
		out.ISP = &info
		out.LatestReport = last.Evaluate(health.Scorer{}, missing)
	}
	return out
}

// --- run command ---

func newRunCmd() *cobra.Command {
	var (
		configPath string
		noHistory  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one speed test using an agent config",
		Long:  "Measure download, upload and latency once, score the result and append it to the history file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if noHistory {
				cfg.Agent.HistoryFile = ""
			}
			r, err := runner.FromConfig(cfg.Agent)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out, err := r.Run(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Agent config file")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not append the result to the history file")
	return cmd
}

// --- helpers ---

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, rep health.Report) {
	fmt.Fprintf(w, "Score: %.2f (%s)\n", rep.Score, rep.State)
	if len(rep.Advisories) == 0 {
		fmt.Fprintln(w, "No advisories.")
		return
	}
	for _, a := range rep.Advisories {
		fmt.Fprintf(w, "  [%s] %s: %s\n", a.Severity, a.Metric, a.Message)
	}
}

// signalContext is used by long-running commands that have no cobra context.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
