package speedtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/speedscope/speedscope/agent/internal/config"
)

// Metric families published by speed-test exporters.
const (
	// Throughput families are in bits per second.
	expDownload = "speedtest_download_bits_per_second"
	expUpload   = "speedtest_upload_bits_per_second"

	// Latency families are in milliseconds.
	expPing   = "speedtest_ping_latency_milliseconds"
	expJitter = "speedtest_jitter_latency_milliseconds"

	// Packet loss as a percentage, 0–100.
	expPacketLoss = "speedtest_packet_loss_percent"
)

// Label names carrying the server that ran the test.
var serverLabels = []string{"server_name", "server_location", "server"}

type exporterProvider struct {
	cfg    config.ProviderConfig
	client *http.Client
	now    func() time.Time
}

// Measure fetches the exporter's metrics page. Exporters usually run the
// test on scrape, so the request can take as long as a full speed test.
//
// Download, upload and ping are required; jitter and packet loss are
// optional and left nil when the exporter does not publish them.
func (p *exporterProvider) Measure(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	mfs, err := fetchMetrics(ctx, p.client, p.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("exporter scrape: %w", err)
	}

	res := &Result{MeasuredAt: p.now().UTC()}
	for _, req := range []struct {
		name  string
		scale float64
		dst   *float64
	}{
		{expDownload, 1e-6, &res.DownloadMbps},
		{expUpload, 1e-6, &res.UploadMbps},
		{expPing, 1, &res.PingMs},
	} {
		v, ok := lastValue(mfs[req.name])
		if !ok {
			return nil, fmt.Errorf("exporter: metric %s missing", req.name)
		}
		*req.dst = round2(v * req.scale)
	}

	if v, ok := lastValue(mfs[expJitter]); ok {
		j := round2(v)
		res.JitterMs = &j
	}
	if v, ok := lastValue(mfs[expPacketLoss]); ok {
		l := round2(v)
		res.PacketLossPct = &l
	}
	res.Server = labelValue(mfs[expDownload], serverLabels...)

	slog.Debug("speedtest: exporter scraped",
		"endpoint", p.cfg.Endpoint,
		"server", res.Server,
		"download_mbps", res.DownloadMbps)
	return res, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// lastValue returns the value of the last sample in mf. Exporters publish one
// sample per family; when there are several, the last one wins.
func lastValue(mf *dto.MetricFamily) (float64, bool) {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0, false
	}
	m := mf.GetMetric()[len(mf.GetMetric())-1]
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	}
	return 0, false
}

// labelValue returns the first non-empty value among names on the first
// sample of mf.
func labelValue(mf *dto.MetricFamily, names ...string) string {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return ""
	}
	labels := mf.GetMetric()[0].GetLabel()
	for _, name := range names {
		for _, lp := range labels {
			if lp.GetName() == name && lp.GetValue() != "" {
				return lp.GetValue()
			}
		}
	}
	return ""
}
