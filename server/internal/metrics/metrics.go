package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/server/internal/store"
)

const namespace = "speedscope"

// Collector records every observed entry into a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	download   *prometheus.GaugeVec
	upload     *prometheus.GaugeVec
	ping       *prometheus.GaugeVec
	jitter     *prometheus.GaugeVec
	packetLoss *prometheus.GaugeVec
	score      *prometheus.GaugeVec
	state      *prometheus.GaugeVec

	received   *prometheus.CounterVec
	advisories *prometheus.CounterVec
}

// New creates a Collector with all metrics registered. Go runtime and
// process collectors are included so the endpoint doubles as a liveness view
// of the server itself.
func New() *Collector {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"source"})
	}

	c := &Collector{
		registry:   prometheus.NewRegistry(),
		download:   gauge("download_mbps", "Latest download throughput in Mbit/s."),
		upload:     gauge("upload_mbps", "Latest upload throughput in Mbit/s."),
		ping:       gauge("ping_ms", "Latest round-trip latency in milliseconds."),
		jitter:     gauge("jitter_ms", "Latest jitter in milliseconds."),
		packetLoss: gauge("packet_loss_percent", "Latest packet loss percentage."),
		score:      gauge("health_score", "Latest connection health score, 0 to 100."),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_state",
			Help:      "1 for the current health state of a source, 0 otherwise.",
		}, []string{"source", "state"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_received_total",
			Help:      "Speed-test records accepted by the server.",
		}, []string{"source"}),
		advisories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisories_total",
			Help:      "Advisories raised by received records.",
		}, []string{"source", "metric", "severity"}),
	}

	c.registry.MustRegister(
		c.download, c.upload, c.ping, c.jitter, c.packetLoss,
		c.score, c.state, c.received, c.advisories,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Observe updates the metrics from a newly stored entry. Optional metrics
// the record does not carry keep their previous value.
func (c *Collector) Observe(e store.Entry) {
	r := e.Record
	src := r.Source

	c.received.WithLabelValues(src).Inc()
	c.download.WithLabelValues(src).Set(r.Download)
	c.upload.WithLabelValues(src).Set(r.Upload)
	c.ping.WithLabelValues(src).Set(r.Ping)
	if r.Jitter != nil {
		c.jitter.WithLabelValues(src).Set(*r.Jitter)
	}
	if r.PacketLoss != nil {
		c.packetLoss.WithLabelValues(src).Set(*r.PacketLoss)
	}

	if e.Report == nil {
		c.setState(src, health.StateUnknown)
		return
	}
	c.score.WithLabelValues(src).Set(e.Report.Score)
	c.setState(src, e.Report.State)
	for _, a := range e.Report.Advisories {
		c.advisories.WithLabelValues(src, a.Metric, strings.ToLower(string(a.Severity))).Inc()
	}
}

func (c *Collector) setState(source, current string) {
	for _, s := range []string{health.StateHealthy, health.StateDegraded, health.StateCritical, health.StateUnknown} {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(source, s).Set(v)
	}
}

// Registry returns the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
