package health

import (
	"math"
	"strconv"
)

// Normalisation ceilings for each metric.
const (
	downloadCeilingMbps = 100.0
	uploadCeilingMbps   = 50.0
	pingCeilingMs       = 200.0
	jitterCeilingMs     = 50.0
	packetLossCeilPct   = 100.0
)

// State constants returned by the score calculator.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a score to a health state. They follow the colour bands
// of the dashboard gauge (red below 33, yellow below 66, green above).
const (
	ThresholdHealthy  = 66.0
	ThresholdDegraded = 33.0
)

// Measurement holds the five metrics of one speed test.
type Measurement struct {
	// DownloadMbps is the download throughput in megabits per second.
	DownloadMbps float64 `json:"download_mbps"`

	// UploadMbps is the upload throughput in megabits per second.
	UploadMbps float64 `json:"upload_mbps"`

	// PingMs is the round-trip latency in milliseconds.
	PingMs float64 `json:"ping_ms"`

	// JitterMs is the mean absolute deviation of repeated pings, in milliseconds.
	JitterMs float64 `json:"jitter_ms"`

	// PacketLossPct is the share of lost probes, 0–100.
	PacketLossPct float64 `json:"packet_loss_pct"`
}

// Report is the result of evaluating one Measurement.
type Report struct {
	// Score is the health score in the range 0–100, rounded to 2 decimals.
	Score float64 `json:"score"`

	// State is the health state derived from Score.
	State string `json:"state"`

	// Advisories lists the rules that fired, in evaluation order.
	Advisories []Advisory `json:"advisories"`

	// Factors holds the normalised (0–1) value of each metric. Useful for
	// rendering per-dimension breakdowns.
	Factors Factors `json:"factors"`
}

// Factors are the per-metric normalised values used to compute Score.
type Factors struct {
	Download   float64 `json:"download"`
	Upload     float64 `json:"upload"`
	Ping       float64 `json:"ping"`
	Jitter     float64 `json:"jitter"`
	PacketLoss float64 `json:"packet_loss"`
}

// Scorer computes health scores with a fixed weight set.
// The zero value is not usable; build one with NewScorer.
type Scorer struct {
	weights Weights
}

// NewScorer returns a Scorer using w re-normalised to sum to 1.
func NewScorer(w Weights) Scorer {
	return Scorer{weights: w.Normalize()}
}

// Weights returns the normalised weights the scorer applies.
func (s Scorer) Weights() Weights {
	return s.weights
}

// defaultScorer backs the package-level functions.
var defaultScorer = Scorer{weights: DefaultWeights}

// Score calculates the health score of m with DefaultWeights.
func Score(m Measurement) float64 {
	return defaultScorer.Score(m)
}

// Evaluate scores m with DefaultWeights and runs the advisory rules.
func Evaluate(m Measurement) Report {
	return defaultScorer.Evaluate(m)
}

// Score calculates the health score of m.
//
// Formula:
//
//	score = 100 * (
//	    min(download/100, 1)          * w_download +
//	    min(upload/50, 1)             * w_upload   +
//	    clamp01((200 - ping)/200)     * w_ping     +
//	    clamp01((50 - jitter)/50)     * w_jitter   +
//	    clamp01((100 - loss)/100)     * w_loss
//	)
//
// rounded to 2 decimal places.
func (s Scorer) Score(m Measurement) float64 {
	return s.score(normalize(m))
}

// Evaluate scores m and runs the advisory rules.
func (s Scorer) Evaluate(m Measurement) Report {
	f := normalize(m)
	score := s.score(f)
	return Report{
		Score:      score,
		State:      StateFromScore(score),
		Advisories: Recommend(m),
		Factors:    f,
	}
}

func (s Scorer) score(f Factors) float64 {
	w := s.weights
	sum := f.Download*w.Download +
		f.Upload*w.Upload +
		f.Ping*w.Ping +
		f.Jitter*w.Jitter +
		f.PacketLoss*w.PacketLoss
	return round2(sum * 100)
}

// normalize maps each metric onto the unit interval. Throughput is only
// capped from above, so a negative speed yields a negative factor.
func normalize(m Measurement) Factors {
	return Factors{
		Download:   math.Min(m.DownloadMbps/downloadCeilingMbps, 1),
		Upload:     math.Min(m.UploadMbps/uploadCeilingMbps, 1),
		Ping:       clamp01((pingCeilingMs - m.PingMs) / pingCeilingMs),
		Jitter:     clamp01((jitterCeilingMs - m.JitterMs) / jitterCeilingMs),
		PacketLoss: clamp01((packetLossCeilPct - m.PacketLossPct) / packetLossCeilPct),
	}
}

// StateFromScore maps a numeric score to a named health state.
func StateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// round2 rounds v to two decimal places, half to even on the exact binary
// value.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	if err != nil {
		return v
	}
	return r
}
