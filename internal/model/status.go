package model

import "strings"

// Status is the lifecycle status shared by jobs and cases.
type Status string

// Entity status constants.
const (
	StatusStopped    Status = "stopped"
	StatusInProgress Status = "in_progress"
	StatusCancelling Status = "cancelling"
	StatusAwaiting   Status = "awaiting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusStopped,
	StatusInProgress,
	StatusCancelling,
	StatusAwaiting,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns every status in declaration order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// RunningStatuses returns the statuses for which IsRunning is true.
func RunningStatuses() []Status {
	return []Status{StatusInProgress, StatusCancelling, StatusAwaiting}
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsStopped reports whether no work is happening for the entity: it has not
// started yet or has reached an end state.
func (s Status) IsStopped() bool {
	switch s {
	case StatusStopped, StatusCancelled, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// IsRunning reports whether the entity is live. Only running entities are
// reloaded into memory on startup.
func (s Status) IsRunning() bool {
	switch s {
	case StatusInProgress, StatusCancelling, StatusAwaiting:
		return true
	}
	return false
}

// IsAnomaly reports whether the status signals a cancellation or a failure.
func (s Status) IsAnomaly() bool {
	switch s {
	case StatusCancelling, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Label returns a display label, e.g. "In Progress".
func (s Status) Label() string {
	return titleize(string(s))
}

func (s Status) String() string {
	return string(s)
}

// Event triggers a transition between statuses.
type Event string

// Lifecycle events.
const (
	EventStartWork          Event = "start_work"
	EventSuccessfullyDone   Event = "successfully_done"
	EventAwaitingOnInput    Event = "awaiting_on_input"
	EventCancelRequested    Event = "cancel_requested"
	EventErrorEncountered   Event = "error_encountered"
	EventTimeoutOrError     Event = "timeout_or_error"
	EventInputReceived      Event = "input_received"
	EventCancelWhileWaiting Event = "cancel_while_waiting"
	EventCancelConfirmed    Event = "cancel_confirmed"
)

var allEvents = []Event{
	EventStartWork,
	EventSuccessfullyDone,
	EventAwaitingOnInput,
	EventCancelRequested,
	EventErrorEncountered,
	EventTimeoutOrError,
	EventInputReceived,
	EventCancelWhileWaiting,
	EventCancelConfirmed,
}

// AllEvents returns every event in declaration order.
func AllEvents() []Event {
	out := make([]Event, len(allEvents))
	copy(out, allEvents)
	return out
}

// Valid reports whether e is one of the declared events.
func (e Event) Valid() bool {
	for _, v := range allEvents {
		if e == v {
			return true
		}
	}
	return false
}

// Label returns a display label, e.g. "Start Work".
func (e Event) Label() string {
	return titleize(string(e))
}

func (e Event) String() string {
	return string(e)
}

func titleize(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
