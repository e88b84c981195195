package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "download < 10", "score < 33",
	// "state == critical", "advisory == packet_loss".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// History backends.
const (
	BackendMemory   = "memory"
	BackendJSONFile = "jsonfile"
	BackendPostgres = "postgres"
)

// Missing-metrics policies, shared with the agent.
const (
	MissingZero   = types.MissingZero
	MissingReject = types.MissingReject
)

// Default values for the server configuration.
const (
	DefaultGRPCPort          = 50051
	DefaultHTTPPort          = 8080
	DefaultBackend           = BackendMemory
	DefaultHistoryPath       = "speed_history.json"
	DefaultMaxRecords        = 10000
	DefaultRecent            = 5
	DefaultTrendWindow       = 3
	DefaultBroadcastInterval = 5 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the gRPC receiver listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on
	// (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates incoming gRPC and REST clients.
	Auth AuthConfig `yaml:"auth"`

	// History selects where received records are persisted.
	History HistoryConfig `yaml:"history"`

	// Health configures scoring of received records.
	Health HealthConfig `yaml:"health"`

	// Dashboard controls the REST snapshot and WebSocket stream.
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | mtls | none.
	// mtls serves gRPC over TLS and requires agents to present a certificate
	// signed by ClientCAFile.
	Mode string `yaml:"mode"`

	// CertFile and KeyFile are the server certificate for mtls.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// ClientCAFile verifies agent certificates under mtls.
	ClientCAFile string `yaml:"client_ca_file"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// HistoryConfig controls record retention and persistence.
type HistoryConfig struct {
	// Backend is one of: memory | jsonfile | postgres (default memory).
	Backend string `yaml:"backend"`

	// Path is the history file for the jsonfile backend.
	Path string `yaml:"path"`

	// DSNEnv names the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`

	// MaxRecords bounds the in-memory history (default 10000).
	MaxRecords int `yaml:"max_records"`

	// Retention evicts records older than this from memory. Zero keeps all.
	Retention time.Duration `yaml:"retention"`
}

// DSN returns the Postgres connection string resolved from the environment.
func (h HistoryConfig) DSN() string {
	if h.DSNEnv == "" {
		return ""
	}
	return os.Getenv(h.DSNEnv)
}

// HealthConfig controls how received records are scored.
type HealthConfig struct {
	// Weights overrides the default metric weights. They are re-normalised to
	// sum to 1; leave empty for the defaults.
	Weights health.Weights `yaml:"weights"`

	// MissingMetrics is zero (score with absent jitter/loss as 0) or reject
	// (store but do not score).
	MissingMetrics string `yaml:"missing_metrics"`
}

// Scorer returns the scorer for the configured weights.
func (h HealthConfig) Scorer() health.Scorer {
	if h.Weights.IsZero() {
		return health.NewScorer(health.DefaultWeights)
	}
	return health.NewScorer(h.Weights)
}

// DashboardConfig controls what the dashboard endpoints return.
type DashboardConfig struct {
	// Recent is the size of the recent-tests table (default 5).
	Recent int `yaml:"recent"`

	// TrendWindow is the moving-average window (default 3).
	TrendWindow int `yaml:"trend_window"`

	// BroadcastInterval is how often the WebSocket hub pushes a snapshot
	// (default 5s).
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			History: HistoryConfig{
				Backend:    DefaultBackend,
				Path:       DefaultHistoryPath,
				MaxRecords: DefaultMaxRecords,
			},
			Health: HealthConfig{
				MissingMetrics: MissingZero,
			},
			Dashboard: DashboardConfig{
				Recent:            DefaultRecent,
				TrendWindow:       DefaultTrendWindow,
				BroadcastInterval: DefaultBroadcastInterval,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	case "mtls":
		if s.Auth.CertFile == "" || s.Auth.KeyFile == "" || s.Auth.ClientCAFile == "" {
			return fmt.Errorf("server.auth: mtls requires cert_file, key_file and client_ca_file")
		}
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|mtls|none", s.Auth.Mode)
	}

	switch s.History.Backend {
	case BackendMemory:
	case BackendJSONFile:
		if s.History.Path == "" {
			return fmt.Errorf("server.history.path is required for the jsonfile backend")
		}
	case BackendPostgres:
		if s.History.DSNEnv == "" {
			return fmt.Errorf("server.history.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("server.history.backend %q unknown: want memory|jsonfile|postgres", s.History.Backend)
	}
	if s.History.MaxRecords <= 0 {
		return fmt.Errorf("server.history.max_records must be positive")
	}
	if s.History.Retention < 0 {
		return fmt.Errorf("server.history.retention must not be negative")
	}

	switch s.Health.MissingMetrics {
	case MissingZero, MissingReject:
	default:
		return fmt.Errorf("server.health.missing_metrics %q unknown: want zero|reject", s.Health.MissingMetrics)
	}
	w := s.Health.Weights
	if w.Download < 0 || w.Upload < 0 || w.Ping < 0 || w.Jitter < 0 || w.PacketLoss < 0 {
		return fmt.Errorf("server.health.weights must not be negative")
	}

	if s.Dashboard.Recent <= 0 {
		return fmt.Errorf("server.dashboard.recent must be positive")
	}
	if s.Dashboard.TrendWindow <= 0 {
		return fmt.Errorf("server.dashboard.trend_window must be positive")
	}
	if s.Dashboard.BroadcastInterval <= 0 {
		return fmt.Errorf("server.dashboard.broadcast_interval must be positive")
	}

	for i, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name and condition are required", i)
		}
		if r.Cooldown < 0 {
			return fmt.Errorf("server.alerts.rules[%d]: cooldown must not be negative", i)
		}
	}
	for i, wh := range s.Alerts.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d].type %q unknown: want teams|slack|http", i, wh.Type)
		}
	}
	return nil
}
