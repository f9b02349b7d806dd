package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/seantiz/warden/internal/model"
)

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an ephemeral Store. Records are kept as encoded JSON so it
// behaves exactly like the SQLite store apart from durability.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]*memTable
}

type memTable struct {
	order []string
	data  map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memTable)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Save(_ context.Context, kind string, rec Record) error {
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

	t, ok := s.tables[kind]
	if !ok {
		t = &memTable{data: make(map[string][]byte)}
		s.tables[kind] = t
	}
	if _, exists := t.data[id]; !exists {
		t.order = append(t.order, id)
	}
	t.data[id] = data
	return nil
}

func (s *MemoryStore) GetAll(_ context.Context, kind string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter(kind, func(Record) bool { return true })
}

func (s *MemoryStore) GetByID(_ context.Context, kind, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[kind]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := t.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decode(string(data))
}

func (s *MemoryStore) Delete(_ context.Context, kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[kind]
	if !ok {
		return false, nil
	}
	if _, ok := t.data[id]; !ok {
		return false, nil
	}
	delete(t.data, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables = make(map[string]*memTable)
	return nil
}

func (s *MemoryStore) GetCasesForJob(_ context.Context, jobID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filter(model.KindCase, func(r Record) bool {
		id, _ := r["job_id"].(string)
		return id == jobID
	})
}

// filter must be called with s.mu held.
func (s *MemoryStore) filter(kind string, keep func(Record) bool) ([]Record, error) {
	records := []Record{}
	t, ok := s.tables[kind]
	if !ok {
		return records, nil
	}
	for _, id := range t.order {
		rec, err := decode(string(t.data[id]))
		if err != nil {
			return nil, err
		}
		if keep(rec) {
			records = append(records, rec)
		}
	}
	return records, nil
}
