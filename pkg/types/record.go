package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/speedscope/speedscope/pkg/health"
)

// TimestampLayout is the layout used for timestamps in history files.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a time.Time that marshals to TimestampLayout in local time.
// On read, both TimestampLayout and RFC 3339 are accepted.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds, the precision of the on-disk format.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Second)}
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Local().Format(TimestampLayout))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimestamp parses s as TimestampLayout (local time) or RFC 3339.
// An empty string yields the zero Timestamp.
func ParseTimestamp(s string) (Timestamp, error) {
	if s == "" {
		return Timestamp{}, nil
	}
	if ts, err := time.ParseInLocation(TimestampLayout, s, time.Local); err == nil {
		return Timestamp{Time: ts}, nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp: cannot parse %q", s)
	}
	return Timestamp{Time: ts}, nil
}

// Record is one persisted speed test.
type Record struct {
	Timestamp Timestamp `json:"timestamp"`

	// Download and Upload are throughput in Mbps.
	Download float64 `json:"download"`
	Upload   float64 `json:"upload"`

	// Ping is the round-trip latency in milliseconds.
	Ping float64 `json:"ping"`

	// Jitter (ms) and PacketLoss (%) are nil when no latency probe ran.
	Jitter     *float64 `json:"jitter,omitempty"`
	PacketLoss *float64 `json:"packet_loss,omitempty"`

	// Source identifies the agent that produced the record.
	Source string `json:"source,omitempty"`

	// Server is the speed-test server or provider location used.
	Server string `json:"server,omitempty"`

	ISP      string `json:"isp,omitempty"`
	Location string `json:"location,omitempty"`
	ASN      string `json:"asn,omitempty"`
}

// Measurement converts r into the health scorer's input. The second result is
// false when jitter or packet loss is missing; missing values are zero.
func (r Record) Measurement() (health.Measurement, bool) {
	m := health.Measurement{
		DownloadMbps: r.Download,
		UploadMbps:   r.Upload,
		PingMs:       r.Ping,
	}
	complete := true
	if r.Jitter != nil {
		m.JitterMs = *r.Jitter
	} else {
		complete = false
	}
	if r.PacketLoss != nil {
		m.PacketLossPct = *r.PacketLoss
	} else {
		complete = false
	}
	return m, complete
}

// Missing-metrics policies for records without jitter or packet loss.
const (
	// MissingZero scores the record with the absent values taken as 0.
	MissingZero = "zero"
	// MissingReject keeps the record but leaves it unscored.
	MissingReject = "reject"
)

// Evaluate scores r with sc under policy. It returns nil when r is missing
// jitter or packet loss and policy is MissingReject. A zero sc uses the
// default weights.
func (r Record) Evaluate(sc health.Scorer, policy string) *health.Report {
	m, complete := r.Measurement()
	if !complete && policy == MissingReject {
		return nil
	}
	if sc == (health.Scorer{}) {
		sc = health.NewScorer(health.DefaultWeights)
	}
	rep := sc.Evaluate(m)
	return &rep
}

// ISPInfo returns the ISP details carried by r.
func (r Record) ISPInfo() ISPInfo {
	return ISPInfo{ISP: r.ISP, Location: r.Location, ASN: r.ASN}
}

// SetISP copies info into r.
func (r *Record) SetISP(info ISPInfo) {
	r.ISP = info.ISP
	r.Location = info.Location
	r.ASN = info.ASN
}

// Float returns a pointer to v. Handy for the optional Record fields.
func Float(v float64) *float64 {
	return &v
}

// ISPInfo describes the network the measurement was taken from.
type ISPInfo struct {
	ISP      string `json:"isp"`
	Location string `json:"location"`
	ASN      string `json:"asn"`
}

// Defaults used when the ISP lookup fails or returns empty fields.
const (
	UnknownISP      = "Unknown ISP"
	UnknownLocation = "Unknown"
)

// UnknownISPInfo is reported when no lookup result is available.
var UnknownISPInfo = ISPInfo{ISP: UnknownISP, Location: UnknownLocation, ASN: UnknownLocation}
