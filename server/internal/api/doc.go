// Package api implements the HTTP REST API for speedscope-server.
//
// New(store, alerts, opts) returns a Handler that serves:
//
//	GET  /api/v1/health          latest score, state and advisories plus per-source states
//	GET  /api/v1/history         ?source=&limit= stored records with their reports
//	GET  /api/v1/history/recent  newest opts.Recent records, oldest first
//	GET  /api/v1/trends          ?source=&window= download/upload moving averages
//	GET  /api/v1/isp             ISP of the latest record plus ISP metrics
//	GET  /api/v1/alerts          firing and recently resolved alerts
//	GET  /api/v1/snapshot        health + recent + isp + generated_at
//	POST /api/v1/score           evaluate a posted measurement
//
// All endpoints respond with Content-Type: application/json. Wrong methods
// get 405, malformed query parameters or bodies get 400, both with an
// {"error": "..."} body.
//
// Handler.Snapshot builds the same payload as GET /api/v1/snapshot; the
// WebSocket hub streams it. JSON types are defined in types.go.
package api
