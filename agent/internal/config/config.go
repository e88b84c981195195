package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/speedscope/speedscope/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSchedule       = "@every 30m"
	DefaultBufferSize     = 100
	DefaultHistoryFile    = "speed_history.json"
	DefaultProviderType   = "cloudflare"
	DefaultCloudflareURL  = "https://speed.cloudflare.com"
	DefaultDownloadBytes  = 25_000_000
	DefaultUploadBytes    = 10_000_000
	DefaultLatencySamples = 5
	DefaultProviderTimeout = 60 * time.Second
	DefaultProbeMode      = "tcp"
	DefaultProbeHost      = "8.8.8.8"
	DefaultProbePort      = 53
	DefaultProbeSamples   = 10
	DefaultProbeInterval  = 100 * time.Millisecond
	DefaultProbeTimeout   = time.Second
	DefaultGeoEndpoint    = "https://ipapi.co/json/"
)

// Missing-metrics policies. They decide what happens to a record that lacks
// jitter or packet loss.
const (
	MissingZero   = types.MissingZero   // score it with the missing values set to 0
	MissingReject = types.MissingReject // store it but do not score it
)

// Config is the top-level agent configuration. Fields map 1:1 to
// config.example.yaml. A `server:` key in the same file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ID names this agent; it becomes Record.Source. Defaults to the hostname.
	ID string `yaml:"id"`

	// ServerEndpoint is the gRPC address of speedscope-server (host:port).
	// Empty means local-only: records go to the history file and nowhere else.
	ServerEndpoint string `yaml:"server_endpoint"`

	// Schedule is a cron spec (robfig/cron syntax, descriptors allowed)
	// controlling how often a speed test runs.
	Schedule string `yaml:"schedule"`

	// RunOnStart triggers one test immediately after start-up.
	RunOnStart bool `yaml:"run_on_start"`

	// BufferSize is the maximum number of records held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// HistoryFile is the local JSON history file. "-" disables it.
	HistoryFile string `yaml:"history_file"`

	// HistoryLimit keeps only the newest N records in HistoryFile (0 = all).
	HistoryLimit int `yaml:"history_limit"`

	// MissingMetrics is the policy for records without jitter or packet
	// loss: zero | reject.
	MissingMetrics string `yaml:"missing_metrics"`

	// ServerAuth configures how the agent authenticates to speedscope-server.
	// Supports mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`

	Provider ProviderConfig `yaml:"provider"`
	Probe    ProbeConfig    `yaml:"probe"`
	Geo      GeoConfig      `yaml:"geo"`
}

// ProviderConfig selects and tunes the throughput measurement backend.
type ProviderConfig struct {
	// Type is the provider: cloudflare | exporter.
	Type string `yaml:"type"`

	// Endpoint is the provider base URL (cloudflare) or the metrics URL of
	// a speed-test exporter.
	Endpoint string `yaml:"endpoint"`

	// DownloadBytes and UploadBytes size the cloudflare transfers.
	DownloadBytes int64 `yaml:"download_bytes"`
	UploadBytes   int64 `yaml:"upload_bytes"`

	// LatencySamples is the number of empty requests timed for ping.
	LatencySamples int `yaml:"latency_samples"`

	// Timeout bounds one whole measurement.
	Timeout time.Duration `yaml:"timeout"`

	Proxy ProxyConfig `yaml:"proxy"`
	Auth  AuthConfig  `yaml:"auth"`
	TLS   TLSConfig   `yaml:"tls"`
}

// ProxyConfig routes provider traffic through a proxy.
type ProxyConfig struct {
	// SOCKS5 is host:port of a SOCKS5 proxy. Empty means direct.
	SOCKS5 string `yaml:"socks5"`

	// UsernameEnv / PasswordEnv name environment variables with proxy
	// credentials, if the proxy requires them.
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// Username returns the proxy user resolved from the environment.
func (p ProxyConfig) Username() string { return env(p.UsernameEnv) }

// Password returns the proxy password resolved from the environment.
func (p ProxyConfig) Password() string { return env(p.PasswordEnv) }

// ProbeConfig tunes the latency probe that yields jitter and packet loss.
type ProbeConfig struct {
	// Mode is tcp | icmp | none.
	Mode string `yaml:"mode"`

	Host string `yaml:"host"`

	// Port is used by the tcp mode only.
	Port int `yaml:"port"`

	Samples  int           `yaml:"samples"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// GeoConfig controls the ISP lookup.
type GeoConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// AuthConfig specifies an authentication mode for an outbound connection.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header (or gRPC metadata key) to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token variable name, used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields, used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// HistoryEnabled reports whether records are written to a local file.
func (a AgentConfig) HistoryEnabled() bool {
	return a.HistoryFile != "" && a.HistoryFile != "-"
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fill(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Schedule:       DefaultSchedule,
			BufferSize:     DefaultBufferSize,
			HistoryFile:    DefaultHistoryFile,
			MissingMetrics: MissingZero,
			Provider: ProviderConfig{
				Type:           DefaultProviderType,
				DownloadBytes:  DefaultDownloadBytes,
				UploadBytes:    DefaultUploadBytes,
				LatencySamples: DefaultLatencySamples,
				Timeout:        DefaultProviderTimeout,
			},
			Probe: ProbeConfig{
				Mode:     DefaultProbeMode,
				Host:     DefaultProbeHost,
				Port:     DefaultProbePort,
				Samples:  DefaultProbeSamples,
				Interval: DefaultProbeInterval,
				Timeout:  DefaultProbeTimeout,
			},
			Geo: GeoConfig{
				Enabled:  true,
				Endpoint: DefaultGeoEndpoint,
			},
		},
	}
}

// fill sets values that depend on other fields.
func fill(cfg *Config) {
	a := &cfg.Agent
	if a.ID == "" {
		if h, err := os.Hostname(); err == nil {
			a.ID = h
		}
	}
	if a.Provider.Type == "cloudflare" && a.Provider.Endpoint == "" {
		a.Provider.Endpoint = DefaultCloudflareURL
	}
	if a.Geo.Endpoint == "" {
		a.Geo.Endpoint = DefaultGeoEndpoint
	}
	if a.ServerAuth.Mode == "apikey" && a.ServerAuth.Header == "" {
		a.ServerAuth.Header = "x-api-key"
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ID == "" {
		return fmt.Errorf("agent.id is required")
	}
	if a.Schedule == "" {
		return fmt.Errorf("agent.schedule is required")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.HistoryLimit < 0 {
		return fmt.Errorf("agent.history_limit must not be negative")
	}
	switch a.MissingMetrics {
	case MissingZero, MissingReject:
	default:
		return fmt.Errorf("agent.missing_metrics: unknown policy %q", a.MissingMetrics)
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}

	p := a.Provider
	switch p.Type {
	case "cloudflare", "exporter":
	default:
		return fmt.Errorf("provider: unknown type %q", p.Type)
	}
	if p.Endpoint == "" {
		return fmt.Errorf("provider %q: endpoint is required", p.Type)
	}
	if p.Type == "cloudflare" {
		if p.DownloadBytes <= 0 || p.UploadBytes <= 0 {
			return fmt.Errorf("provider: download_bytes and upload_bytes must be positive")
		}
		if p.LatencySamples <= 0 {
			return fmt.Errorf("provider: latency_samples must be positive")
		}
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("provider: timeout must be positive")
	}
	switch p.Auth.Mode {
	case "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("provider: unknown auth mode %q", p.Auth.Mode)
	}

	pr := a.Probe
	switch pr.Mode {
	case "none":
	case "tcp", "icmp":
		if pr.Host == "" {
			return fmt.Errorf("probe: host is required")
		}
		if pr.Mode == "tcp" && (pr.Port <= 0 || pr.Port > 65535) {
			return fmt.Errorf("probe: port %d out of range", pr.Port)
		}
		if pr.Samples <= 0 {
			return fmt.Errorf("probe: samples must be positive")
		}
		if pr.Timeout <= 0 {
			return fmt.Errorf("probe: timeout must be positive")
		}
		if pr.Interval < 0 {
			return fmt.Errorf("probe: interval must not be negative")
		}
	default:
		return fmt.Errorf("probe: unknown mode %q", pr.Mode)
	}
	return nil
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
