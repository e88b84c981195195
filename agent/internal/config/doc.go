// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: config tree parsed from YAML
//   - AgentConfig: id, server_endpoint, schedule, run_on_start, buffer_size,
//     history_file, history_limit, missing_metrics, server_auth, provider,
//     probe, geo
//   - ProviderConfig: type (cloudflare|exporter), endpoint, transfer sizes,
//     latency_samples, timeout, proxy (socks5), auth, tls
//   - ProbeConfig: mode (tcp|icmp|none), host, port, samples, interval, timeout
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, password_env; Key(), Token() and Password()
//     resolve from environment variables
//
// Load(path) reads the YAML file, applies defaults (schedule "@every 30m",
// cloudflare provider, tcp probe to 8.8.8.8:53 with 10 samples, ipapi.co
// lookup), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors (vim, VS Code) by re-adding the watch after
// each event.
package config
