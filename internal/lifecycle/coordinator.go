package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/warden/internal/model"
)

// ErrInvalidTransition is wrapped by every TransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected status change.
type TransitionError struct {
	Kind   string
	ID     string
	From   model.Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s (status %s): %s", e.Kind, e.ID, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Entity is anything governed by the status machine. Jobs and cases
// implement it.
type Entity interface {
	Kind() string
	EntityID() string
	EntityName() string
	EntityStatus() model.Status
	SetEntityStatus(model.Status)
	Finished() bool
	MarkFinished(time.Time)
	Record() (map[string]any, error)
}

// Saver persists an entity record under its kind.
type Saver interface {
	Save(ctx context.Context, kind string, rec map[string]any) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for finished_at.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator applies status changes to entities and persists the result.
// Callers must hold the entity's lock for the duration of each call.
type Coordinator struct {
	saver  Saver
	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator creates a coordinator that persists through s.
func NewCoordinator(s Saver, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		saver:  s,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transition moves e to status to. A rejected change leaves e untouched and
// returns ok=false with a readable reason. An accepted change is applied in
// memory, then persisted; a persistence failure is returned as err and the
// in-memory change is kept.
func (c *Coordinator) Transition(ctx context.Context, e Entity, to model.Status) (bool, string, error) {
	from := e.EntityStatus()
	if !CanTransition(from, to) {
		reason := TransitionReason(from, to)
		c.reject(e, from, reason)
		return false, reason, nil
	}

	e.SetEntityStatus(to)
	if IsTerminal(to) && !e.Finished() {
		e.MarkFinished(c.now())
	}
	transitionsTotal.WithLabelValues(e.Kind(), string(from), string(to)).Inc()
	c.logger.Info("status changed",
		"kind", e.Kind(),
		"id", e.EntityID(),
		"from", from,
		"to", to,
	)

	reason := TransitionReason(from, to)
	if err := c.Persist(ctx, e); err != nil {
		return true, reason, err
	}
	return true, reason, nil
}

// HandleEvent resolves the status event leads to from e's current status and
// delegates to Transition.
func (c *Coordinator) HandleEvent(ctx context.Context, e Entity, event model.Event) (bool, string, error) {
	from := e.EntityStatus()
	to, ok := EventResult(from, event)
	if !ok {
		reason := fmt.Sprintf("event %s not allowed from %s", event, from)
		c.reject(e, from, reason)
		return false, reason, nil
	}
	return c.Transition(ctx, e, to)
}

// Fire is HandleEvent for callers that treat a rejected event as an error.
// Rejections are returned as *TransitionError.
func (c *Coordinator) Fire(ctx context.Context, e Entity, event model.Event) error {
	ok, reason, err := c.HandleEvent(ctx, e, event)
	if err != nil {
		return err
	}
	if !ok {
		return &TransitionError{Kind: e.Kind(), ID: e.EntityID(), From: e.EntityStatus(), Reason: reason}
	}
	return nil
}

// Persist writes e's current record without changing its status.
func (c *Coordinator) Persist(ctx context.Context, e Entity) error {
	rec, err := e.Record()
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", e.Kind(), e.EntityID(), err)
	}
	if err := c.saver.Save(ctx, e.Kind(), rec); err != nil {
		c.logger.Error("failed to persist entity",
			"kind", e.Kind(),
			"id", e.EntityID(),
			"status", e.EntityStatus(),
			"error", err,
		)
		return fmt.Errorf("persist %s %s: %w", e.Kind(), e.EntityID(), err)
	}
	return nil
}

func (c *Coordinator) reject(e Entity, from model.Status, reason string) {
	rejectedTotal.WithLabelValues(e.Kind(), string(from)).Inc()
	c.logger.Warn("status change rejected",
		"kind", e.Kind(),
		"id", e.EntityID(),
		"status", from,
		"reason", reason,
	)
}
