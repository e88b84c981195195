// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort           : port for the gRPC receiver (default 50051)
//   - HTTPPort           : port for REST, WebSocket and /metrics (default 8080)
//   - Auth.Mode          : "apikey", "mtls" (cert_file, key_file, client_ca_file) or "none"
//   - History.Backend    : memory | jsonfile | postgres (default memory)
//   - History.MaxRecords : in-memory bound (default 10000)
//   - Health.Weights     : metric weights, re-normalised to sum to 1
//   - Dashboard.Recent   : size of the recent-tests table (default 5)
//   - Alerts             : threshold rules and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
