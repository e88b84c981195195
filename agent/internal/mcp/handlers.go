package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/speedscope/speedscope/agent/internal/runner"
	"github.com/speedscope/speedscope/pkg/analysis"
	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
)

// speedTestTimeout bounds run_speed_test.
const speedTestTimeout = 3 * time.Minute

type handlers struct {
	scorer  health.Scorer
	missing string
	history HistorySource
	runner  SpeedTester
}

func newHandlers(opts Options) *handlers {
	scorer := opts.Scorer
	if scorer == (health.Scorer{}) {
		scorer = health.NewScorer(health.DefaultWeights)
	}
	missing := opts.MissingMetrics
	if missing == "" {
		missing = types.MissingZero
	}
	return &handlers{scorer: scorer, missing: missing, history: opts.History, runner: opts.Runner}
}

// scoreMeasurement evaluates the posted metrics.
func (h *handlers) scoreMeasurement(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	var m health.Measurement
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"download", &m.DownloadMbps},
		{"upload", &m.UploadMbps},
		{"ping", &m.PingMs},
	} {
		v, ok := numberArg(args, f.key)
		if !ok {
			return errResult(f.key + " is required and must be a number"), nil
		}
		*f.dst = v
	}
	m.JitterMs, _ = numberArg(args, "jitter")
	m.PacketLossPct, _ = numberArg(args, "packet_loss")

	return jsonResult(map[string]interface{}{
		"measurement": m,
		"report":      h.scorer.Evaluate(m),
	})
}

// listAdvisoryRules returns the fixed rule table.
func (h *handlers) listAdvisoryRules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(health.Rules)
}

// historySummary summarises the history file.
func (h *handlers) historySummary(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.history == nil {
		return errResult("no history file configured"), nil
	}
	args := getArgs(request)
	recent := intArg(args, "recent", analysis.DefaultRecent)
	window := intArg(args, "window", analysis.DefaultTrendWindow)

	recs, err := h.history.Load()
	if err != nil {
		return errResult(fmt.Sprintf("load history: %v", err)), nil
	}

	out := map[string]interface{}{
		"isp_metrics": analysis.Summarize(recs),
		"recent":      analysis.Recent(recs, recent),
		"trends":      analysis.Trends(analysis.Recent(recs, 50), window),
	}
	if len(recs) > 0 {
		if rep := recs[len(recs)-1].Evaluate(h.scorer, h.missing); rep != nil {
			out["latest_report"] = rep
		}
	}
	return jsonResult(out)
}

// runSpeedTest runs one cycle through the runner.
func (h *handlers) runSpeedTest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, speedTestTimeout)
	defer cancel()

	out, err := h.runner.Run(ctx)
	if errors.Is(err, runner.ErrBusy) {
		return errResult("a speed test is already running, try again shortly"), nil
	}
	if err != nil {
		return errResult(fmt.Sprintf("speed test failed: %v", err)), nil
	}
	return jsonResult(out)
}

// getArgs safely extracts the arguments map from a CallToolRequest.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok || args == nil {
		return map[string]interface{}{}
	}
	return args
}

// numberArg extracts a numeric argument. JSON numbers arrive as float64.
func numberArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// intArg extracts a positive integer argument with a default value.
func intArg(args map[string]interface{}, key string, def int) int {
	v, ok := numberArg(args, key)
	if !ok || v < 1 {
		return def
	}
	return int(v)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// errResult creates a tool-level error result (IsError=true), not a
// transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}
