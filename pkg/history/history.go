package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/speedscope/speedscope/pkg/types"
)

// DefaultFile is the file name used when no path is configured.
const DefaultFile = "speed_history.json"

// Log is an append-only history file.
type Log struct {
	path  string
	limit int

	mu sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithLimit keeps only the newest n records on every Append. n <= 0 keeps all.
func WithLimit(n int) Option {
	return func(l *Log) { l.limit = n }
}

// Open returns a Log backed by path. The file is not touched until the first
// Load or Append.
func Open(path string, opts ...Option) *Log {
	if path == "" {
		path = DefaultFile
	}
	l := &Log{path: path}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Path returns the file the log reads and writes.
func (l *Log) Path() string { return l.path }

// Load returns every record in the file, oldest first.
// A missing or empty file yields an empty slice.
func (l *Log) Load() ([]types.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Recent returns the newest n records in chronological order.
func (l *Log) Recent(n int) ([]types.Record, error) {
	recs, err := l.Load()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []types.Record{}, nil
	}
	if len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return recs, nil
}

// Append adds r to the end of the file.
func (l *Log) Append(r types.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.load()
	if err != nil {
		return err
	}
	recs = append(recs, r)
	if l.limit > 0 && len(recs) > l.limit {
		recs = recs[len(recs)-l.limit:]
	}
	return l.write(recs)
}

func (l *Log) load() ([]types.Record, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", l.path, err)
	}
	if len(data) == 0 {
		return []types.Record{}, nil
	}
	var recs []types.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("history: parse %s: %w", l.path, err)
	}
	if recs == nil {
		recs = []types.Record{}
	}
	return recs, nil
}

func (l *Log) write(recs []types.Record) error {
	data, err := json.MarshalIndent(recs, "", "    ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("history: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("history: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("history: rename: %w", err)
	}
	return nil
}
