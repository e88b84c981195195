package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/server/internal/store"
)

// condition is a parsed rule expression: field operator value.
//
// Supported expressions:
//
//	download < 10
//	upload < 5
//	ping > 100
//	jitter > 30
//	packet_loss > 2
//	score < 33
//	state == critical
//	advisory == packet_loss
type condition struct {
	field     string
	op        string
	threshold float64
	text      string
}

var numericFields = map[string]bool{
	"download":    true,
	"upload":      true,
	"ping":        true,
	"jitter":      true,
	"packet_loss": true,
	"score":       true,
}

var validStates = map[string]bool{
	health.StateHealthy:  true,
	health.StateDegraded: true,
	health.StateCritical: true,
	health.StateUnknown:  true,
}

var validMetrics = map[string]bool{
	health.MetricDownload:   true,
	health.MetricUpload:     true,
	health.MetricPing:       true,
	health.MetricPacketLoss: true,
	health.MetricJitter:     true,
}

// parseCondition validates expr and returns its parsed form.
func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", expr)
	}
	c := condition{field: parts[0], op: parts[1], text: parts[2]}

	switch c.field {
	case "state":
		if c.op != "==" || !validStates[c.text] {
			return condition{}, fmt.Errorf("condition %q: want \"state == healthy|degraded|critical|unknown\"", expr)
		}
	case "advisory":
		if c.op != "==" || !validMetrics[c.text] {
			return condition{}, fmt.Errorf("condition %q: want \"advisory == download|upload|ping|packet_loss|jitter\"", expr)
		}
	default:
		if !numericFields[c.field] {
			return condition{}, fmt.Errorf("condition %q: unknown field %q", expr, c.field)
		}
		switch c.op {
		case ">", ">=", "<", "<=", "==":
		default:
			return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, c.op)
		}
		v, err := strconv.ParseFloat(c.text, 64)
		if err != nil {
			return condition{}, fmt.Errorf("condition %q: threshold: %w", expr, err)
		}
		c.threshold = v
	}
	return c, nil
}

// eval tests the condition against e and returns whether it fires and the
// triggering value. A metric the record does not carry never fires.
func (c condition) eval(e store.Entry) (bool, float64) {
	switch c.field {
	case "state":
		state := health.StateUnknown
		score := 0.0
		if e.Report != nil {
			state, score = e.Report.State, e.Report.Score
		}
		return state == c.text, score

	case "advisory":
		if e.Report == nil {
			return false, 0
		}
		for _, a := range e.Report.Advisories {
			if a.Metric == c.text {
				return true, metricValue(e, a.Metric)
			}
		}
		return false, 0

	default:
		v, ok := fieldValue(e, c.field)
		if !ok {
			return false, 0
		}
		return compareFloat(v, c.op, c.threshold), v
	}
}

// fieldValue maps a field name to its value in the entry.
func fieldValue(e store.Entry, field string) (float64, bool) {
	r := e.Record
	switch field {
	case "download":
		return r.Download, true
	case "upload":
		return r.Upload, true
	case "ping":
		return r.Ping, true
	case "jitter":
		if r.Jitter == nil {
			return 0, false
		}
		return *r.Jitter, true
	case "packet_loss":
		if r.PacketLoss == nil {
			return 0, false
		}
		return *r.PacketLoss, true
	case "score":
		if e.Report == nil {
			return 0, false
		}
		return e.Report.Score, true
	default:
		return 0, false
	}
}

func metricValue(e store.Entry, metric string) float64 {
	v, _ := fieldValue(e, metric)
	return v
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
