package store

import (
	"context"
	"errors"
	"fmt"
)

// Record is a JSON object persisted under an entity kind. Every record must
// carry a non-empty string "id".
type Record = map[string]any

var (
	// ErrNotFound is returned when no record exists for a kind and id.
	ErrNotFound = errors.New("record not found")

	// ErrMissingID is returned by Save when a record has no usable id.
	ErrMissingID = errors.New("record has no id")
)

// Store is type-partitioned key-value persistence for entity records.
//
// Records are stored as JSON, so values read back contain only JSON types and
// never alias the caller's maps. All operations are serialized by a single
// lock shared across kinds.
type Store interface {
	// Save inserts rec under kind, replacing any record with the same id.
	// Values read back carry JSON types: numbers become float64 and nested
	// objects map[string]any. A record built from JSON types, as entity
	// records are, reads back deep-equal to what was saved.
	Save(ctx context.Context, kind string, rec Record) error
	// GetAll returns every record of kind in insertion order.
	GetAll(ctx context.Context, kind string) ([]Record, error)
	// GetByID returns the record of kind with the given id, or ErrNotFound.
	GetByID(ctx context.Context, kind, id string) (Record, error)
	// Delete removes a record and reports whether one existed.
	Delete(ctx context.Context, kind, id string) (bool, error)
	// Reset drops every record of every kind.
	Reset(ctx context.Context) error
	// GetCasesForJob returns the case records whose job_id matches.
	GetCasesForJob(ctx context.Context, jobID string) ([]Record, error)
	Close() error
}

// Open returns a SQLite store at path when persist is true, and an
// in-memory store otherwise.
func Open(path string, persist bool) (Store, error) {
	if !persist {
		return NewMemoryStore(), nil
	}
	s, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func recordID(rec Record) (string, error) {
	id, ok := rec["id"].(string)
	if !ok || id == "" {
		return "", ErrMissingID
	}
	return id, nil
}

func validate(kind string, rec Record) (string, error) {
	if kind == "" {
		return "", errors.New("empty record kind")
	}
	id, err := recordID(rec)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", kind, err)
	}
	return id, nil
}
