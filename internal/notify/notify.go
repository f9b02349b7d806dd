// Package notify carries lifecycle events from the engine to whoever needs
// them: the log, in-process subscribers, or an external control plane.
// Delivery is fire-and-forget from the engine's point of view.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event types.
const (
	JobStartConfirmation = "agent.job.start.confirmation"
	JobEnd               = "agent.job.end"
	JobError             = "agent.job.error"
	CaseStart            = "agent.case.start"
	CaseUpdate           = "agent.case.update"
	CaseEnd              = "agent.case.end"
)

// Event is one lifecycle notification.
type Event struct {
	Type       string         `json:"type"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id"`
	JobID      string         `json:"job_id"`
	Details    map[string]any `json:"details,omitempty"`
	Time       time.Time      `json:"time"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event) error

func (f Func) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop discards every event.
var Nop Notifier = Func(func(context.Context, Event) error { return nil })

// Logger writes every event to a structured logger.
type Logger struct {
	logger *slog.Logger
}

// NewLogger returns a notifier that logs events at info level.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Notify(ctx context.Context, ev Event) error {
	l.logger.InfoContext(ctx, "event",
		"type", ev.Type,
		"object_type", ev.ObjectType,
		"object_id", ev.ObjectID,
		"job_id", ev.JobID,
	)
	return nil
}

// Multi fans an event out to several notifiers. Every notifier is called;
// their errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
