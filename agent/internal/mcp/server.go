package mcp

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/speedscope/speedscope/agent/internal/runner"
	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
)

// SpeedTester runs one speed-test cycle.
type SpeedTester interface {
	Run(ctx context.Context) (*runner.Outcome, error)
}

// HistorySource reads the local history.
type HistorySource interface {
	Load() ([]types.Record, error)
}

// Options wires the tool handlers. Nil fields disable the tools that need them.
type Options struct {
	Scorer  health.Scorer
	History HistorySource
	Runner  SpeedTester

	// MissingMetrics decides whether a history record without jitter or
	// packet loss gets a latest_report. Defaults to types.MissingZero.
	MissingMetrics string
}

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server with all tools registered.
func NewServer(version string, opts Options) *Server {
	s := server.NewMCPServer("speedscope", version, server.WithLogging())
	registerTools(s, newHandlers(opts))
	return &Server{mcpServer: s}
}

// Start serves MCP over in/out (stdin/stdout in production) until ctx ends.
func (s *Server) Start(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// registerTools adds all supported tools to the server.
func registerTools(s *server.MCPServer, h *handlers) {
	scoreTool := mcp.NewTool("score_measurement",
		mcp.WithDescription("Compute the 0-100 network health score, health state and advisories for one speed-test measurement. Pure calculation, no network access."),
		mcp.WithNumber("download", mcp.Required(), mcp.Description("Download speed in Mbps")),
		mcp.WithNumber("upload", mcp.Required(), mcp.Description("Upload speed in Mbps")),
		mcp.WithNumber("ping", mcp.Required(), mcp.Description("Latency in ms")),
		mcp.WithNumber("jitter", mcp.Description("Jitter in ms (default 0)")),
		mcp.WithNumber("packet_loss", mcp.Description("Packet loss in percent, 0-100 (default 0)")),
	)
	s.AddTool(scoreTool, h.scoreMeasurement)

	rulesTool := mcp.NewTool("list_advisory_rules",
		mcp.WithDescription("List the advisory thresholds in evaluation order, with severity and message."),
	)
	s.AddTool(rulesTool, h.listAdvisoryRules)

	historyTool := mcp.NewTool("history_summary",
		mcp.WithDescription("Summarise the local speed-test history: ISP averages, consistency, the most recent tests and download/upload moving averages."),
		mcp.WithNumber("recent", mcp.Description("Number of recent tests to include (default 5)")),
		mcp.WithNumber("window", mcp.Description("Moving-average window (default 3)")),
	)
	s.AddTool(historyTool, h.historySummary)

	if h.runner != nil {
		runTool := mcp.NewTool("run_speed_test",
			mcp.WithDescription("Run a full speed test now (download, upload, latency probe, ISP lookup) and return the scored record. Takes 10-60s and uses real bandwidth."),
		)
		s.AddTool(runTool, h.runSpeedTest)
	}
}
