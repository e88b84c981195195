// Package probe sends bursts of small latency probes and turns them into
// ping, jitter and packet-loss figures via analysis.ProbeStats.
//
// Modes: tcp (time a TCP handshake to host:port) and icmp (unprivileged ICMP
// echo over a datagram socket, see golang.org/x/net/icmp). A failed or timed
// out sample counts as lost; it does not fail the burst.
package probe
