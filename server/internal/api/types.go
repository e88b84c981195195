package api

import (
	"github.com/speedscope/speedscope/pkg/analysis"
	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// Source is the source the latest record came from; empty with no data.
	Source     string            `json:"source,omitempty"`
	Score      float64           `json:"score"`
	State      string            `json:"state"`
	Advisories []health.Advisory `json:"advisories"`
	Factors    *health.Factors   `json:"factors,omitempty"`
	Latest     *types.Record     `json:"latest,omitempty"`

	Sources     []SourceHealth `json:"sources"`
	RecordCount int            `json:"record_count"`
	AlertCount  int            `json:"alert_count"`
}

// SourceHealth is the latest state of one source.
type SourceHealth struct {
	Source   string          `json:"source"`
	Score    float64         `json:"score"`
	State    string          `json:"state"`
	LastSeen types.Timestamp `json:"last_seen"`
}

// HistoryEntry is one stored record with its report.
type HistoryEntry struct {
	types.Record
	Score      *float64          `json:"score,omitempty"`
	State      string            `json:"state"`
	Advisories []health.Advisory `json:"advisories"`
}

// TrendsResponse is the payload for GET /api/v1/trends.
type TrendsResponse struct {
	Source string                `json:"source,omitempty"`
	Window int                   `json:"window"`
	Points []analysis.TrendPoint `json:"points"`
}

// ISPResponse is the payload for GET /api/v1/isp.
type ISPResponse struct {
	Source  string              `json:"source,omitempty"`
	ISP     types.ISPInfo       `json:"isp"`
	Metrics analysis.ISPMetrics `json:"isp_metrics"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket broadcast.
type SnapshotResponse struct {
	Health      HealthResponse `json:"health"`
	Recent      []HistoryEntry `json:"recent"`
	ISP         ISPResponse    `json:"isp"`
	GeneratedAt string         `json:"generated_at"` // RFC3339
}

// scoreRequest is the body of POST /api/v1/score. Pointers detect missing
// fields: every metric is required.
type scoreRequest struct {
	DownloadMbps  *float64 `json:"download_mbps"`
	UploadMbps    *float64 `json:"upload_mbps"`
	PingMs        *float64 `json:"ping_ms"`
	JitterMs      *float64 `json:"jitter_ms"`
	PacketLossPct *float64 `json:"packet_loss_pct"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
