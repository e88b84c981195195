package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/speedscope/speedscope/server/internal/config"
	"github.com/speedscope/speedscope/server/internal/store"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Source     string     `json:"source"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against incoming speed-test records and
// delivers webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:source"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates an Engine from the server alert configuration. It fails when a
// rule condition cannot be parsed. An Engine with no rules is valid; Observe
// becomes a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	e := &Engine{
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e, nil
}

// Observe tests all rules against a newly stored record.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing for the same source but whose condition is now
// false are resolved.
func (e *Engine) Observe(entry store.Entry) {
	if len(e.rules) == 0 {
		return
	}
	source := entry.Record.Source
	now := e.now()

	for _, r := range e.rules {
		key := r.Name + ":" + source
		fires, value := r.cond.eval(entry)

		e.mu.Lock()
		var notify *Alert
		if fires {
			if now.Sub(e.lastFire[key]) > r.Cooldown {
				a := &Alert{
					ID:       fmt.Sprintf("%s:%s:%d", r.Name, source, now.UnixNano()),
					RuleName: r.Name,
					Source:   source,
					Severity: r.Severity,
					Value:    value,
					Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
						r.Severity, r.Name, source, r.Condition, value),
					FiredAt: now,
					State:   StateFiring,
				}
				e.active[key] = a
				e.lastFire[key] = now
				cp := *a
				notify = &cp
			}
		} else if a, ok := e.active[key]; ok {
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			delete(e.active, key)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
		}
		e.mu.Unlock()

		if notify == nil {
			continue
		}
		if notify.State == StateFiring {
			slog.Warn("alerts: fired",
				"rule", r.Name,
				"source", source,
				"value", value,
				"severity", r.Severity,
			)
		} else {
			slog.Info("alerts: resolved", "rule", r.Name, "source", source)
		}
		e.wg.Add(1)
		go func(a *Alert) {
			defer e.wg.Done()
			e.deliver(a)
		}(notify)
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}
