package lifecycle

import (
	"fmt"
	"slices"
	"strings"

	"github.com/seantiz/warden/internal/model"
)

// Transition is one entry of the transition table.
type Transition struct {
	Event model.Event
	From  model.Status
	To    model.Status
}

// transitions is the authoritative transition table. Terminal and start
// states are derived from it.
var transitions = []Transition{
	{model.EventStartWork, model.StatusStopped, model.StatusInProgress},
	{model.EventSuccessfullyDone, model.StatusInProgress, model.StatusCompleted},
	{model.EventAwaitingOnInput, model.StatusInProgress, model.StatusAwaiting},
	{model.EventCancelRequested, model.StatusInProgress, model.StatusCancelling},
	{model.EventErrorEncountered, model.StatusInProgress, model.StatusFailed},
	{model.EventTimeoutOrError, model.StatusAwaiting, model.StatusFailed},
	{model.EventInputReceived, model.StatusAwaiting, model.StatusInProgress},
	{model.EventCancelWhileWaiting, model.StatusAwaiting, model.StatusCancelling},
	{model.EventCancelConfirmed, model.StatusCancelling, model.StatusCancelled},
}

var (
	byEvent        = make(map[model.Event]Transition, len(transitions))
	terminalStates []model.Status
	startStates    []model.Status
)

func init() {
	from := make(map[model.Status]bool)
	to := make(map[model.Status]bool)
	for _, t := range transitions {
		byEvent[t.Event] = t
		from[t.From] = true
		to[t.To] = true
	}
	for _, s := range model.AllStatuses() {
		if !from[s] {
			terminalStates = append(terminalStates, s)
		}
		if !to[s] {
			startStates = append(startStates, s)
		}
	}
}

// Transitions returns a copy of the transition table in declaration order.
func Transitions() []Transition {
	return slices.Clone(transitions)
}

// ValidTransitions returns every status reachable from s in one step, mapped
// to the event that performs the step. Terminal statuses yield an empty map.
func ValidTransitions(s model.Status) map[model.Status]model.Event {
	out := make(map[model.Status]model.Event)
	for _, t := range transitions {
		if t.From == s {
			out[t.To] = t.Event
		}
	}
	return out
}

// CanTransition reports whether the table allows moving from one status to
// another.
func CanTransition(from, to model.Status) bool {
	_, ok := ValidTransitions(from)[to]
	return ok
}

// EventResult returns the status event produces from s. The second value is
// false when event is unknown or does not start from s.
func EventResult(s model.Status, event model.Event) (model.Status, bool) {
	t, ok := byEvent[event]
	if !ok || t.From != s {
		return "", false
	}
	return t.To, true
}

// TerminalStates returns the statuses with no outgoing transition.
func TerminalStates() []model.Status {
	return slices.Clone(terminalStates)
}

// StartStates returns the statuses that are never the target of a transition.
func StartStates() []model.Status {
	return slices.Clone(startStates)
}

// IsTerminal reports whether s has no outgoing transition.
func IsTerminal(s model.Status) bool {
	return slices.Contains(terminalStates, s)
}

// TransitionReason names the event that moves from one status to another, or
// explains why no event does.
func TransitionReason(from, to model.Status) string {
	if ev, ok := ValidTransitions(from)[to]; ok {
		return ev.Label()
	}
	return fmt.Sprintf("invalid transition from %s to %s", from, to)
}

// TransitionMap returns, for every status, its outgoing transitions.
func TransitionMap() map[model.Status]map[model.Status]model.Event {
	out := make(map[model.Status]map[model.Status]model.Event)
	for _, s := range model.AllStatuses() {
		out[s] = ValidTransitions(s)
	}
	return out
}

// Diagram renders the table as a Mermaid state diagram.
func Diagram() string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	for _, s := range startStates {
		fmt.Fprintf(&b, "    [*] --> %s\n", s)
	}
	for _, t := range transitions {
		fmt.Fprintf(&b, "    %s --> %s : %s\n", t.From, t.To, t.Event.Label())
	}
	for _, s := range terminalStates {
		fmt.Fprintf(&b, "    %s --> [*]\n", s)
	}
	return b.String()
}
