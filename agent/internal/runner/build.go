package runner

import (
	"fmt"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/agent/internal/geo"
	"github.com/speedscope/speedscope/agent/internal/probe"
	"github.com/speedscope/speedscope/agent/internal/speedtest"
	"github.com/speedscope/speedscope/pkg/history"
)

// FromConfig builds a Runner from the agent section of the config file.
// The probe, ISP lookup and history file are wired only when enabled.
func FromConfig(cfg config.AgentConfig, sinks ...Sink) (*Runner, error) {
	provider, err := speedtest.New(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	opts := Options{
		Source:         cfg.ID,
		Provider:       provider,
		MissingMetrics: cfg.MissingMetrics,
		Sinks:          sinks,
	}

	p, err := probe.New(cfg.Probe)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	if p != nil {
		opts.Prober = p
	}
	if cfg.Geo.Enabled {
		opts.Geo = geo.New(cfg.Geo)
	}
	if cfg.HistoryEnabled() {
		opts.History = history.Open(cfg.HistoryFile, history.WithLimit(cfg.HistoryLimit))
	}
	return New(opts)
}
