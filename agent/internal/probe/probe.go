package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/pkg/analysis"
)

// Prober measures latency quality.
type Prober interface {
	Probe(ctx context.Context) (analysis.Probe, error)
}

// New returns the Prober for cfg, or nil when cfg.Mode is "none".
func New(cfg config.ProbeConfig) (Prober, error) {
	switch cfg.Mode {
	case "none", "":
		return nil, nil
	case "tcp":
		return &burst{cfg: cfg, dial: tcpDialer(cfg)}, nil
	case "icmp":
		return &icmpProber{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("probe: unsupported mode %q", cfg.Mode)
	}
}

// sampleFunc sends one probe and returns its round-trip time.
type sampleFunc func(ctx context.Context, seq int) (time.Duration, error)

// burst runs cfg.Samples probes spaced by cfg.Interval.
type burst struct {
	cfg  config.ProbeConfig
	dial sampleFunc
}

func (b *burst) Probe(ctx context.Context) (analysis.Probe, error) {
	return run(ctx, b.cfg, b.dial)
}

// run collects the RTTs of cfg.Samples probes. It stops early only when ctx
// is cancelled.
func run(ctx context.Context, cfg config.ProbeConfig, sample sampleFunc) (analysis.Probe, error) {
	rtts := make([]float64, 0, cfg.Samples)
	for i := 0; i < cfg.Samples; i++ {
		if i > 0 && cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return analysis.Probe{}, ctx.Err()
			case <-time.After(cfg.Interval):
			}
		}

		sctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		rtt, err := sample(sctx, i)
		cancel()
		if ctx.Err() != nil {
			return analysis.Probe{}, ctx.Err()
		}
		if err != nil {
			slog.Debug("probe: sample lost", "mode", cfg.Mode, "host", cfg.Host, "seq", i, "err", err)
			continue
		}
		rtts = append(rtts, float64(rtt)/float64(time.Millisecond))
	}

	p := analysis.ProbeStats(rtts, cfg.Samples)
	slog.Debug("probe: burst done",
		"mode", cfg.Mode,
		"host", cfg.Host,
		"replies", p.Replies,
		"jitter_ms", p.Jitter,
		"packet_loss_pct", p.PacketLoss)
	return p, nil
}
