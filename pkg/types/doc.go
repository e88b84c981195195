// Package types defines shared Go types used by the agent, the server and the
// CLI. These are the canonical in-memory representations of speed-test
// records, separate from the gRPC wire format in pkg/wire and the on-disk
// history format in pkg/history.
//
// A Record keeps jitter and packet loss as optional pointers: older history
// files and agents without a latency probe omit them. Record.Measurement
// reports whether the five metrics the health scorer needs are all present.
package types
