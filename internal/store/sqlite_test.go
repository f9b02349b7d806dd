package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/seantiz/warden/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func makeCaseRecord(id, jobID string) Record {
	return Record{
		"id":         id,
		"job_id":     jobID,
		"status":     "in_progress",
		"total_cost": 1.5,
		"updates": []any{
			map[string]any{"index": 1.0, "cost": 1.5, "payload": nil, "is_final": false, "error": nil},
		},
	}
}

func TestSaveAndGetByIDRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := makeCaseRecord("c1", "j1")

		if err := s.Save(ctx, model.KindCase, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := s.GetByID(ctx, model.KindCase, "c1")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if !reflect.DeepEqual(got, rec) {
			t.Errorf("GetByID = %#v, want %#v", got, rec)
		}
	})
}

func TestSaveReturnsJSONTypes(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := Record{"id": "c1", "index": 1, "tags": []string{"a"}}

		if err := s.Save(ctx, model.KindCase, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := s.GetByID(ctx, model.KindCase, "c1")
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		want := Record{"id": "c1", "index": float64(1), "tags": []any{"a"}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("GetByID = %#v, want %#v", got, want)
		}
	})
}

func TestSaveReplacesExisting(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Save(ctx, model.KindJob, Record{"id": "j1", "status": "in_progress"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := s.Save(ctx, model.KindJob, Record{"id": "j1", "status": "completed"}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		all, err := s.GetAll(ctx, model.KindJob)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("len(GetAll) = %d, want 1", len(all))
		}
		if all[0]["status"] != "completed" {
			t.Errorf("status = %v, want completed", all[0]["status"])
		}
	})
}

func TestSaveRequiresID(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, rec := range []Record{{}, {"id": ""}, {"id": 7}} {
			if err := s.Save(ctx, model.KindJob, rec); !errors.Is(err, ErrMissingID) {
				t.Errorf("Save(%v) error = %v, want ErrMissingID", rec, err)
			}
		}
	})
}

func TestGetByIDNotFound(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		_, err := s.GetByID(context.Background(), model.KindJob, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByID error = %v, want ErrNotFound", err)
		}
	})
}

func TestKindsArePartitioned(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Save(ctx, model.KindJob, Record{"id": "same"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, err := s.GetByID(ctx, model.KindCase, "same"); !errors.Is(err, ErrNotFound) {
			t.Errorf("case lookup error = %v, want ErrNotFound", err)
		}
	})
}

func TestDelete(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Save(ctx, model.KindJob, Record{"id": "j1"}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		removed, err := s.Delete(ctx, model.KindJob, "j1")
		if err != nil || !removed {
			t.Fatalf("Delete = %v, %v; want true, nil", removed, err)
		}
		removed, err = s.Delete(ctx, model.KindJob, "j1")
		if err != nil || removed {
			t.Fatalf("second Delete = %v, %v; want false, nil", removed, err)
		}
	})
}

func TestReset(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Save(ctx, model.KindJob, Record{"id": "j1"})
		s.Save(ctx, model.KindCase, makeCaseRecord("c1", "j1"))

		if err := s.Reset(ctx); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		for _, kind := range []string{model.KindJob, model.KindCase} {
			all, err := s.GetAll(ctx, kind)
			if err != nil {
				t.Fatalf("GetAll: %v", err)
			}
			if len(all) != 0 {
				t.Errorf("%s records after reset = %d", kind, len(all))
			}
		}
	})
}

func TestGetAllPreservesInsertionOrder(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ids := []string{"c", "a", "b"}
		for _, id := range ids {
			s.Save(ctx, model.KindJob, Record{"id": id})
		}
		s.Save(ctx, model.KindJob, Record{"id": "a", "v": 2.0})

		all, err := s.GetAll(ctx, model.KindJob)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		for i, id := range ids {
			if all[i]["id"] != id {
				t.Errorf("all[%d].id = %v, want %s", i, all[i]["id"], id)
			}
		}
	})
}

func TestGetCasesForJob(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Save(ctx, model.KindCase, makeCaseRecord("c1", "J1"))
		s.Save(ctx, model.KindCase, makeCaseRecord("c2", "J2"))
		s.Save(ctx, model.KindCase, makeCaseRecord("c3", "J1"))
		s.Save(ctx, model.KindJob, Record{"id": "x", "job_id": "J1"})

		got, err := s.GetCasesForJob(ctx, "J1")
		if err != nil {
			t.Fatalf("GetCasesForJob: %v", err)
		}
		if len(got) != 2 || got[0]["id"] != "c1" || got[1]["id"] != "c3" {
			t.Errorf("GetCasesForJob = %v", got)
		}
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := Record{"id": "j1", "name": "before"}
		s.Save(ctx, model.KindJob, rec)
		rec["name"] = "mutated"

		got, _ := s.GetByID(ctx, model.KindJob, "j1")
		got["name"] = "also mutated"

		again, _ := s.GetByID(ctx, model.KindJob, "j1")
		if again["name"] != "before" {
			t.Errorf("name = %v, want before", again["name"])
		}
	})
}

func TestConcurrentSaves(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Go(func() {
				if err := s.Save(ctx, model.KindJob, Record{"id": fmt.Sprintf("j%d", i)}); err != nil {
					t.Errorf("Save: %v", err)
				}
			})
		}
		wg.Wait()

		all, err := s.GetAll(ctx, model.KindJob)
		if err != nil {
			t.Fatalf("GetAll: %v", err)
		}
		if len(all) != 50 {
			t.Errorf("len(GetAll) = %d, want 50", len(all))
		}
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Save(ctx, model.KindJob, Record{"id": "j1", "status": "awaiting"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetByID(ctx, model.KindJob, "j1")
	if err != nil {
		t.Fatalf("GetByID after reopen: %v", err)
	}
	if got["status"] != "awaiting" {
		t.Errorf("status = %v, want awaiting", got["status"])
	}
}

func TestOpen(t *testing.T) {
	s, err := Open("", false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(persist=false) = %T, want *MemoryStore", s)
	}

	s, err = Open(filepath.Join(t.TempDir(), "x.db"), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(persist=true) = %T, want *SQLiteStore", s)
	}
}
