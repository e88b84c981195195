package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/agent/internal/speedtest"
	"github.com/speedscope/speedscope/pkg/analysis"
	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
)

// ErrBusy is returned by Run while another cycle is in progress.
var ErrBusy = errors.New("runner: speed test already running")

// Prober measures jitter and packet loss.
type Prober interface {
	Probe(ctx context.Context) (analysis.Probe, error)
}

// ISPLookup resolves the ISP of the current connection.
type ISPLookup interface {
	Lookup(ctx context.Context) (types.ISPInfo, error)
}

// Recorder persists records.
type Recorder interface {
	Append(types.Record) error
}

// Sink receives every completed outcome.
type Sink func(Outcome)

// Outcome is the result of one cycle.
type Outcome struct {
	Record types.Record `json:"record"`

	// Report is nil when the record was not scored.
	Report *health.Report `json:"report,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Options wires a Runner. Provider is required; everything else is optional.
type Options struct {
	Source   string
	Provider speedtest.Provider
	Prober   Prober
	Geo      ISPLookup
	History  Recorder
	Scorer   health.Scorer

	// MissingMetrics is config.MissingZero or config.MissingReject.
	MissingMetrics string

	Sinks []Sink

	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner runs speed-test cycles. Safe for concurrent use.
type Runner struct {
	opts    Options
	running atomic.Bool

	mu   sync.Mutex
	last *Outcome
}

// New returns a Runner for opts.
func New(opts Options) (*Runner, error) {
	if opts.Provider == nil {
		return nil, errors.New("runner: provider is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Scorer == (health.Scorer{}) {
		opts.Scorer = health.NewScorer(health.DefaultWeights)
	}
	if opts.MissingMetrics == "" {
		opts.MissingMetrics = config.MissingZero
	}
	return &Runner{opts: opts}, nil
}

// Run executes one cycle. It fails only when the provider fails, ctx is
// cancelled, or another cycle is already running.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.running.Store(false)

	start := r.opts.Now()
	slog.Info("runner: speed test started", "source", r.opts.Source)

	res, err := r.opts.Provider.Measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("runner: measure: %w", err)
	}

	rec := types.Record{
		Timestamp:  types.NewTimestamp(start),
		Download:   res.DownloadMbps,
		Upload:     res.UploadMbps,
		Ping:       res.PingMs,
		Jitter:     res.JitterMs,
		PacketLoss: res.PacketLossPct,
		Source:     r.opts.Source,
		Server:     res.Server,
	}

	if r.opts.Prober != nil {
		p, err := r.opts.Prober.Probe(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("runner: probe: %w", ctx.Err())
			}
			slog.Warn("runner: latency probe failed, jitter and loss unavailable", "err", err)
		default:
			rec.Jitter = types.Float(p.Jitter)
			rec.PacketLoss = types.Float(p.PacketLoss)
		}
	}

	if r.opts.Geo != nil {
		info, err := r.opts.Geo.Lookup(ctx)
		if err != nil {
			slog.Warn("runner: isp lookup failed", "err", err)
			info = types.UnknownISPInfo
		}
		rec.SetISP(info)
	}

	out := Outcome{Record: rec, Report: rec.Evaluate(r.opts.Scorer, r.opts.MissingMetrics)}
	if out.Report == nil {
		slog.Info("runner: record incomplete, not scored",
			"jitter_present", rec.Jitter != nil,
			"packet_loss_present", rec.PacketLoss != nil)
	}

	if r.opts.History != nil {
		if err := r.opts.History.Append(rec); err != nil {
			slog.Error("runner: history append failed", "err", err)
		}
	}

	out.Duration = r.opts.Now().Sub(start)
	r.mu.Lock()
	r.last = &out
	r.mu.Unlock()

	attrs := []any{
		"source", rec.Source,
		"download_mbps", rec.Download,
		"upload_mbps", rec.Upload,
		"ping_ms", rec.Ping,
		"duration", out.Duration,
	}
	if out.Report != nil {
		attrs = append(attrs, "score", out.Report.Score, "state", out.Report.State,
			"advisories", len(out.Report.Advisories))
	}
	slog.Info("runner: speed test finished", attrs...)

	for _, s := range r.opts.Sinks {
		s(out)
	}
	return &out, nil
}

// Last returns the most recent outcome, or nil before the first cycle.
func (r *Runner) Last() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

// Running reports whether a cycle is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}
