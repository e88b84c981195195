// Package speedtest measures throughput and latency of the current internet
// connection.
//
// Implemented providers:
//   - cloudflare (cloudflare.go): times empty requests for ping, a sized
//     download from /__down and an upload to /__up against a Cloudflare-style
//     speed endpoint
//   - exporter (exporter.go): scrapes a speed-test exporter's Prometheus
//     text exposition and reads the last measured values
//
// Factory: New(config.ProviderConfig) returns the configured Provider.
// Authentication (API key, bearer token, basic) is handled by the shared
// authRoundTripper in provider.go, and an optional SOCKS5 proxy is wired into
// the transport there; individual providers receive a pre-configured
// *http.Client.
package speedtest
