// Package metrics exposes received speed-test records as Prometheus metrics.
//
// Each Collector owns a private registry so several servers (or tests) can
// run in one process. Per-source gauges hold the latest value of every
// metric; counters track how many records arrived and which advisories
// fired. The Collector plugs into the receiver as an Observer and serves
// the registry on /metrics via promhttp.
package metrics
