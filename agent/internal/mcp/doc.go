// Package mcp exposes the health scorer, the advisory rules, the local
// history and (optionally) an on-demand speed test as Model Context Protocol
// tools, served over stdio with mark3labs/mcp-go.
//
// Tools:
//   - score_measurement: evaluate five metrics, returns the health report
//   - list_advisory_rules: the fixed advisory thresholds, in order
//   - history_summary: ISP metrics, recent tests and trends from the history file
//   - run_speed_test: run one cycle; registered only when a runner is wired
package mcp
