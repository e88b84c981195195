// Package store holds the speed-test history received by the server. Reads
// are served from a bounded, timestamp-ordered in-memory list; writes go
// through an optional Backend (a JSON history file or Postgres) so the
// history survives restarts. A background loop evicts records older than the
// configured retention.
package store
