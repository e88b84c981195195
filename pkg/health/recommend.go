package health

// Severity classifies an advisory.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityAlert   Severity = "alert"
)

// Metric names used in Advisory.Metric, in rule evaluation order.
const (
	MetricDownload   = "download"
	MetricUpload     = "upload"
	MetricPing       = "ping"
	MetricPacketLoss = "packet_loss"
	MetricJitter     = "jitter"
)

// Advisory is one human-readable recommendation triggered by a threshold rule.
type Advisory struct {
	Metric   string   `json:"metric"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Rule is a single advisory threshold. A rule fires when the metric value is
// strictly below (Below == true) or strictly above Threshold.
type Rule struct {
	Metric    string   `json:"metric"`
	Below     bool     `json:"below"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
}

// Rules is the fixed advisory rule set, in evaluation order.
var Rules = []Rule{
	{
		Metric:    MetricDownload,
		Below:     true,
		Threshold: 10,
		Severity:  SeverityWarning,
		Message:   "Low download speed. Check for background downloads or network congestion.",
	},
	{
		Metric:    MetricUpload,
		Below:     true,
		Threshold: 5,
		Severity:  SeverityWarning,
		Message:   "Low upload speed. May affect video calls and file sharing.",
	},
	{
		Metric:    MetricPing,
		Threshold: 100,
		Severity:  SeverityAlert,
		Message:   "High ping detected. May cause lag in online gaming and real-time apps.",
	},
	{
		Metric:    MetricPacketLoss,
		Threshold: 2,
		Severity:  SeverityAlert,
		Message:   "Significant packet loss detected. Check network connection and cables.",
	},
	{
		Metric:    MetricJitter,
		Threshold: 30,
		Severity:  SeverityWarning,
		Message:   "High jitter detected. May affect streaming and video call quality.",
	},
}

// Recommend evaluates every rule against m and returns the advisories that
// fired, in rule order. The result is never nil.
func Recommend(m Measurement) []Advisory {
	out := make([]Advisory, 0, len(Rules))
	for _, r := range Rules {
		if r.fires(m.Value(r.Metric)) {
			out = append(out, Advisory{
				Metric:   r.Metric,
				Severity: r.Severity,
				Message:  r.Message,
			})
		}
	}
	return out
}

func (r Rule) fires(v float64) bool {
	if r.Below {
		return v < r.Threshold
	}
	return v > r.Threshold
}

// Value returns the raw value of the named metric, or 0 for an unknown name.
func (m Measurement) Value(metric string) float64 {
	switch metric {
	case MetricDownload:
		return m.DownloadMbps
	case MetricUpload:
		return m.UploadMbps
	case MetricPing:
		return m.PingMs
	case MetricPacketLoss:
		return m.PacketLossPct
	case MetricJitter:
		return m.JitterMs
	default:
		return 0
	}
}
