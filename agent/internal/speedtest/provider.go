package speedtest

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/speedscope/speedscope/agent/internal/config"
)

// Result is the output of one measurement.
type Result struct {
	// DownloadMbps and UploadMbps are throughput in megabits per second.
	DownloadMbps float64
	UploadMbps   float64

	// PingMs is the mean round-trip latency to the provider.
	PingMs float64

	// JitterMs and PacketLossPct are set only by providers that measure them.
	JitterMs      *float64
	PacketLossPct *float64

	// Server names the test server or its location.
	Server string

	MeasuredAt time.Time
}

// Provider runs a speed test.
type Provider interface {
	Measure(ctx context.Context) (*Result, error)
}

// New returns the Provider for cfg. It builds the HTTP client once and reuses
// it across measurements.
func New(cfg config.ProviderConfig) (Provider, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("speedtest %q: build http client: %w", cfg.Type, err)
	}
	switch cfg.Type {
	case "cloudflare":
		return &cloudflareProvider{cfg: cfg, client: client, now: time.Now}, nil
	case "exporter":
		return &exporterProvider{cfg: cfg, client: client, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("speedtest: unsupported provider %q", cfg.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the provider's auth, TLS and
// proxy settings. The client has no overall timeout; Measure bounds each run
// with cfg.Timeout through the request context.
func buildHTTPClient(cfg config.ProviderConfig) (*http.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
		// Compression would skew the measured transfer size.
		DisableCompression: true,
		MaxIdleConns:       4,
		IdleConnTimeout:    30 * time.Second,
	}

	if cfg.Proxy.SOCKS5 != "" {
		var auth *proxy.Auth
		if user := cfg.Proxy.Username(); user != "" {
			auth = &proxy.Auth{User: user, Password: cfg.Proxy.Password()}
		}
		dialer, err := proxy.SOCKS5("tcp", cfg.Proxy.SOCKS5, auth, &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.Dial = dialer.Dial //nolint:staticcheck // fallback for dialers without context support
		}
	}

	if cfg.Auth.Mode == "apikey" && cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}
	return &http.Client{
		Transport: &authRoundTripper{base: transport, auth: cfg.Auth},
	}, nil
}

// mbps converts n bytes moved in d to megabits per second.
func mbps(n int64, d time.Duration) float64 {
	secs := d.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(n) * 8 / secs / 1e6
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
