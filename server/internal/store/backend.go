package store

import (
	"context"

	"github.com/speedscope/speedscope/pkg/history"
	"github.com/speedscope/speedscope/pkg/types"
)

// Backend persists records beyond the lifetime of the process.
type Backend interface {
	// Load returns the newest limit records, oldest first. limit <= 0
	// returns all of them.
	Load(ctx context.Context, limit int) ([]types.Record, error)

	// Save appends one record.
	Save(ctx context.Context, rec types.Record) error

	Close() error
}

// JSONFile stores records in a history file, the same format the agent
// writes locally.
type JSONFile struct {
	log *history.Log
}

// NewJSONFile returns a backend over the file at path. limit caps the file
// size in records; limit <= 0 keeps everything.
func NewJSONFile(path string, limit int) *JSONFile {
	return &JSONFile{log: history.Open(path, history.WithLimit(limit))}
}

func (j *JSONFile) Load(_ context.Context, limit int) ([]types.Record, error) {
	if limit <= 0 {
		return j.log.Load()
	}
	return j.log.Recent(limit)
}

func (j *JSONFile) Save(_ context.Context, rec types.Record) error {
	return j.log.Append(rec)
}

func (j *JSONFile) Close() error { return nil }
