package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/warden/internal/model"

	_ "modernc.org/sqlite"
)

const createEntitiesTable = `
CREATE TABLE IF NOT EXISTS entities (
    kind       TEXT NOT NULL,
    id         TEXT NOT NULL,
    data       TEXT NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (kind, id)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a single SQLite table keyed by (kind, id).
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// ":memory:" gives an ephemeral database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and every
	// operation is serialized anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createEntitiesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create entities table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts rec under kind.
func (s *SQLiteStore) Save(ctx context.Context, kind string, rec Record) error {
	id, err := validate(kind, rec)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (kind, id, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		kind, id, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", kind, id, err)
	}
	return nil
}

// GetAll returns every record of kind in insertion order.
func (s *SQLiteStore) GetAll(ctx context.Context, kind string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.query(ctx, "SELECT data FROM entities WHERE kind = ? ORDER BY rowid", kind)
}

// GetByID retrieves a record by kind and id.
func (s *SQLiteStore) GetByID(ctx context.Context, kind, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM entities WHERE kind = ? AND id = ?", kind, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return decode(data)
}

// Delete removes a record and reports whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE kind = ? AND id = ?", kind, id)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// Reset removes all records of all kinds.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM entities"); err != nil {
		return fmt.Errorf("reset entities: %w", err)
	}
	return nil
}

// GetCasesForJob scans the case partition for records with the given job_id.
func (s *SQLiteStore) GetCasesForJob(ctx context.Context, jobID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.query(ctx,
		"SELECT data FROM entities WHERE kind = ? AND json_extract(data, '$.job_id') = ? ORDER BY rowid",
		model.KindCase, jobID,
	)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return records, nil
}

func decode(data string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
