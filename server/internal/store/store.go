package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("store: closed")

// Entry is a received record together with its health report.
type Entry struct {
	Record types.Record `json:"record"`

	// Report is nil when the record was not scored.
	Report *health.Report `json:"report,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// ScoreFunc scores a record restored from the backend.
type ScoreFunc func(types.Record) *health.Report

// Option configures a Store.
type Option func(*Store)

// WithBackend persists every appended record to b.
func WithBackend(b Backend) Option {
	return func(s *Store) { s.backend = b }
}

// WithMaxRecords bounds the in-memory history. n <= 0 keeps everything.
func WithMaxRecords(n int) Option {
	return func(s *Store) { s.max = n }
}

// WithRetention evicts records whose timestamp is older than d. Zero keeps all.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithScorer sets how restored records are scored.
func WithScorer(fn ScoreFunc) Option {
	return func(s *Store) { s.score = fn }
}

// Store is a thread-safe in-memory speed-test history ordered by record
// timestamp. Persistence is delegated to an optional Backend; reads are
// always served from memory.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool

	backend   Backend
	max       int
	retention time.Duration
	score     ScoreFunc
	now       func() time.Time // injectable for deterministic tests
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Restore loads up to the configured maximum of the newest records from the
// backend into memory, replacing what is held.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.backend == nil {
		return 0, nil
	}
	recs, err := s.backend.Load(ctx, s.max)
	if err != nil {
		return 0, fmt.Errorf("store: restore: %w", err)
	}

	now := s.now()
	entries := make([]Entry, 0, len(recs))
	for _, r := range recs {
		e := Entry{Record: r, ReceivedAt: now}
		if s.score != nil {
			e.Report = s.score(r)
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Record.Timestamp.Before(entries[j].Record.Timestamp.Time)
	})

	s.mu.Lock()
	s.entries = entries
	s.trimLocked()
	n := len(s.entries)
	s.mu.Unlock()
	return n, nil
}

// Append persists rec and adds it to the in-memory history. When the backend
// write fails nothing is added, so the sender can retry without duplicates.
func (s *Store) Append(ctx context.Context, rec types.Record, rep *health.Report) (Entry, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return Entry{}, ErrClosed
	}

	if s.backend != nil {
		if err := s.backend.Save(ctx, rec); err != nil {
			return Entry{}, fmt.Errorf("store: persist: %w", err)
		}
	}

	e := Entry{Record: rec, Report: rep, ReceivedAt: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Records mostly arrive in order; search from the end.
	i := len(s.entries)
	for i > 0 && s.entries[i-1].Record.Timestamp.After(rec.Timestamp.Time) {
		i--
	}
	s.entries = append(s.entries, Entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	s.trimLocked()
	return e, nil
}

// trimLocked drops the oldest entries beyond max. Caller holds mu.
func (s *Store) trimLocked() {
	if s.max > 0 && len(s.entries) > s.max {
		s.entries = append([]Entry(nil), s.entries[len(s.entries)-s.max:]...)
	}
}

// List returns the history of source in chronological order, or of every
// source when source is empty.
func (s *Store) List(source string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if source == "" || e.Record.Source == source {
			out = append(out, e)
		}
	}
	return out
}

// Records is List without the reports.
func (s *Store) Records(source string) []types.Record {
	entries := s.List(source)
	out := make([]types.Record, len(entries))
	for i, e := range entries {
		out[i] = e.Record
	}
	return out
}

// Latest returns the newest entry of source (any source when empty).
func (s *Store) Latest(source string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if source == "" || s.entries[i].Record.Source == source {
			return s.entries[i], true
		}
	}
	return Entry{}, false
}

// Recent returns the newest n entries across all sources, oldest first.
func (s *Store) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return []Entry{}
	}
	if n > len(s.entries) {
		n = len(s.entries)
	}
	return append([]Entry(nil), s.entries[len(s.entries)-n:]...)
}

// Sources returns the distinct sources seen, sorted.
func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.entries {
		seen[e.Record.Source] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of entries held in memory.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evict removes entries whose record timestamp is not after now minus the
// retention. It returns the number removed; with no retention it is a no-op.
func (s *Store) Evict(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.entries) && !s.entries[i].Record.Timestamp.After(cutoff) {
		i++
	}
	if i > 0 {
		s.entries = append([]Entry(nil), s.entries[i:]...)
	}
	return i
}

// Run starts the background retention loop. It ticks at half the retention
// (minimum 1 second, maximum 1 hour) and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.retention <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted expired records", "count", n)
			}
		}
	}
}

// Close rejects further appends and closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}
