// Package runner executes one speed-test cycle end to end.
//
// A cycle runs the throughput provider, the latency probe and the ISP lookup,
// assembles a types.Record, scores it with the health scorer, appends it to
// the local history file and hands the outcome to the configured sinks (the
// gRPC shipper in the agent binary).
//
// Only the provider is mandatory. Probe and lookup failures are logged and
// degrade the record: jitter and packet loss stay unset, the ISP becomes
// "Unknown ISP". With the "reject" missing-metrics policy such a record is
// still stored and shipped, but not scored.
//
// At most one cycle runs at a time; a concurrent Run returns ErrBusy.
package runner
