// Package registry indexes live entities in memory, partitioned by owner:
// jobs by agent name and cases by job id.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrDuplicate is returned by Add under ErrorOnDuplicate when the id is
// already registered for the same owner.
var ErrDuplicate = errors.New("duplicate entity id")

// Policy decides what Add does when an id is already registered under the
// same owner. It applies to every entity kind alike.
type Policy int

const (
	ErrorOnDuplicate Policy = iota
	OverwriteOnDuplicate
)

func (p Policy) String() string {
	switch p {
	case ErrorOnDuplicate:
		return "error"
	case OverwriteOnDuplicate:
		return "overwrite"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "error" or "overwrite".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return ErrorOnDuplicate, nil
	case "overwrite":
		return OverwriteOnDuplicate, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// Entry is an entity the registry can index.
type Entry interface {
	EntityID() string
	OwnerKey() string
}

// Registry maps owner keys to entities by id. It is safe for concurrent use;
// its lock is independent of any store lock.
type Registry[T Entry] struct {
	mu     sync.RWMutex
	kind   string
	policy Policy
	logger *slog.Logger
	owners map[string]map[string]T
}

// New creates an empty registry. kind is used in logs and errors.
func New[T Entry](kind string, policy Policy, logger *slog.Logger) *Registry[T] {
	return &Registry[T]{
		kind:   kind,
		policy: policy,
		logger: logger,
		owners: make(map[string]map[string]T),
	}
}

// Policy returns the duplicate policy in effect.
func (r *Registry[T]) Policy() Policy {
	return r.policy
}

// Add registers e under its owner.
func (r *Registry[T]) Add(e T) error {
	_, _, err := r.Swap(e)
	return err
}

// Swap is Add that also returns the entry e displaced under
// OverwriteOnDuplicate. replaced is false when the id was free.
func (r *Registry[T]) Swap(e T) (prev T, replaced bool, err error) {
	id, owner := e.EntityID(), e.OwnerKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.owners[owner]
	if !ok {
		byID = make(map[string]T)
		r.owners[owner] = byID
	}
	if old, exists := byID[id]; exists {
		if r.policy == ErrorOnDuplicate {
			return prev, false, fmt.Errorf("%s %q under %q: %w", r.kind, id, owner, ErrDuplicate)
		}
		r.logger.Warn("overwriting registered entity", "kind", r.kind, "id", id, "owner", owner)
		prev, replaced = old, true
	}
	byID[id] = e
	return prev, replaced, nil
}

// Rollback undoes a Swap of e: prev is put back when replaced is true,
// otherwise e is removed. It does nothing if e is no longer the registered
// entry.
func (r *Registry[T]) Rollback(e, prev T, replaced bool) {
	id, owner := e.EntityID(), e.OwnerKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.owners[owner]
	if !ok {
		return
	}
	if cur, ok := byID[id]; !ok || any(cur) != any(e) {
		return
	}
	if replaced {
		byID[id] = prev
		return
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(r.owners, owner)
	}
}

// Get looks up id under owner, or under every owner when owner is empty.
func (r *Registry[T]) Get(id, owner string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if owner != "" {
		e, ok := r.owners[owner][id]
		return e, ok
	}
	for _, byID := range r.owners {
		if e, ok := byID[id]; ok {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// Contains reports whether id is registered under owner (any owner if empty).
func (r *Registry[T]) Contains(id, owner string) bool {
	_, ok := r.Get(id, owner)
	return ok
}

// GetAllForOwner returns the entities registered under owner, sorted by id.
func (r *Registry[T]) GetAllForOwner(owner string) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.owners[owner]
	ids := sortedKeys(byID)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// Remove drops id from owner and reports whether it was present.
func (r *Registry[T]) Remove(id, owner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.owners[owner]
	if !ok {
		return false
	}
	if _, ok := byID[id]; !ok {
		return false
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(r.owners, owner)
	}
	return true
}

// Len returns the number of registered entities.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, byID := range r.owners {
		n += len(byID)
	}
	return n
}

// Owners returns the owner keys with at least one entity, sorted.
func (r *Registry[T]) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.owners)
}

// Snapshot returns owner → sorted ids.
func (r *Registry[T]) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.owners))
	for owner, byID := range r.owners {
		out[owner] = sortedKeys(byID)
	}
	return out
}

// Reset removes every entity. Only recovery and tests should call it.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.owners = make(map[string]map[string]T)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
