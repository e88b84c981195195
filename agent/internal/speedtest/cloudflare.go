package speedtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/speedscope/speedscope/agent/internal/config"
)

// Cloudflare speed endpoint paths and headers.
const (
	cfDownPath   = "/__down"
	cfUpPath     = "/__up"
	cfColoHeader = "cf-meta-colo"
)

type cloudflareProvider struct {
	cfg    config.ProviderConfig
	client *http.Client
	now    func() time.Time
}

// Measure runs latency, download and upload phases in that order.
// Any phase failing fails the measurement.
func (p *cloudflareProvider) Measure(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	res := &Result{MeasuredAt: p.now().UTC()}

	ping, colo, err := p.latency(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudflare latency: %w", err)
	}
	res.PingMs = round2(ping)
	res.Server = colo

	down, err := p.download(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudflare download: %w", err)
	}
	res.DownloadMbps = round2(down)

	up, err := p.upload(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudflare upload: %w", err)
	}
	res.UploadMbps = round2(up)

	slog.Debug("speedtest: cloudflare measured",
		"server", res.Server,
		"download_mbps", res.DownloadMbps,
		"upload_mbps", res.UploadMbps,
		"ping_ms", res.PingMs)
	return res, nil
}

// latency returns the mean round-trip time in ms of empty downloads, and the
// colo that served them.
func (p *cloudflareProvider) latency(ctx context.Context) (float64, string, error) {
	var total time.Duration
	var colo string
	for i := 0; i < p.cfg.LatencySamples; i++ {
		start := time.Now()
		resp, err := p.get(ctx, 0)
		if err != nil {
			return 0, "", err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		total += time.Since(start)
		if colo == "" {
			colo = resp.Header.Get(cfColoHeader)
		}
	}
	mean := total / time.Duration(p.cfg.LatencySamples)
	return float64(mean) / float64(time.Millisecond), colo, nil
}

func (p *cloudflareProvider) download(ctx context.Context) (float64, error) {
	start := time.Now()
	resp, err := p.get(ctx, p.cfg.DownloadBytes)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	return mbps(n, time.Since(start)), nil
}

func (p *cloudflareProvider) upload(ctx context.Context) (float64, error) {
	size := p.cfg.UploadBytes
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(cfUpPath),
		io.LimitReader(zeroReader{}, size))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http post: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return mbps(size, elapsed), nil
}

func (p *cloudflareProvider) get(ctx context.Context, bytes int64) (*http.Response, error) {
	url := p.url(cfDownPath) + "?bytes=" + strconv.FormatInt(bytes, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

func (p *cloudflareProvider) url(path string) string {
	return strings.TrimRight(p.cfg.Endpoint, "/") + path
}

// zeroReader is an endless source of zero bytes for the upload body.
type zeroReader struct{}

func (zeroReader) Read(b []byte) (int, error) {
	clear(b)
	return len(b), nil
}
