// Package health turns one speed-test measurement into a network health
// report.
//
// score.go provides the pure Score(Measurement) function that calculates the
// weighted normalised health score (0–100):
// download(30%) + upload(20%) + ping(15%) + jitter(15%) + packet_loss(20%).
// Each metric is mapped onto [0, 1] first; throughput saturates at 100 Mbps
// down / 50 Mbps up, latency terms reach 0 at 200 ms ping / 50 ms jitter.
//
// recommend.go provides Recommend(Measurement), the five threshold rules that
// produce advisories in a fixed order: download, upload, ping, packet loss,
// jitter.
//
// Everything in this package is stateless and safe for concurrent use. No
// input is rejected: out-of-range values flow through the arithmetic.
//
// Health state thresholds: Healthy ≥66, Degraded 33–65.99, Critical <33, Unknown.
package health
