package notify

import (
	"context"
	"sync"
	"time"

	"github.com/seantiz/warden/internal/model"
)

// subscriberBufferSize is the channel buffer for each subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// DefaultRetention is how long a finished job's closed marker is kept.
const DefaultRetention = 10 * time.Minute

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithRetention sets how long closed markers are kept before eviction.
func WithRetention(d time.Duration) BrokerOption {
	return func(b *Broker) { b.retention = d }
}

// WithBrokerClock overrides the broker's time source.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// Broker fans events out to per-job subscribers. It is safe for concurrent use.
//
// A job's topic is closed when a job end or error event reports a stopped
// status. Closed topics are retained as markers for the retention period so
// that late subscribers receive a closed channel instead of blocking forever.
// A topic with no subscribers that was never closed is dropped on the last
// unsubscribe.
type Broker struct {
	mu        sync.Mutex
	topics    map[string]*topic
	retention time.Duration
	now       func() time.Time
}

type topic struct {
	subs     map[int]chan Event
	nextID   int
	closed   bool
	closedAt time.Time
}

// NewBroker creates a new broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:    make(map[string]*topic),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel receiving events for the given job and an
// unsubscribe function. If the job has already finished, the returned channel
// is immediately closed.
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()

	ch := make(chan Event, subscriberBufferSize)
	t, ok := b.topics[jobID]
	if ok && t.closed {
		close(ch)
		return ch, func() {}
	}
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[jobID] = t
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if len(t.subs) == 0 && !t.closed && b.topics[jobID] == t {
			delete(b.topics, jobID)
		}
	}
}

// Notify publishes ev to the subscribers of ev.JobID. A job end or error
// event closes the topic unless its "status" detail names a status in which
// the job is still running, such as cancelling. It never fails.
func (b *Broker) Notify(_ context.Context, ev Event) error {
	b.publish(ev)
	if endsStream(ev) {
		b.Close(ev.JobID)
	}
	return nil
}

func endsStream(ev Event) bool {
	if ev.ObjectType != model.KindJob || (ev.Type != JobEnd && ev.Type != JobError) {
		return false
	}
	status, ok := ev.Details["status"].(string)
	if !ok || status == "" {
		return true
	}
	return model.Status(status).IsStopped()
}

func (b *Broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.JobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking the engine.
		}
	}
}

// Close signals that no more events will be published for the job.
func (b *Broker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[jobID] = t
	}
	if t.closed {
		return
	}

	t.closed = true
	t.closedAt = b.now()
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// evictLocked drops closed markers older than the retention period.
func (b *Broker) evictLocked() {
	cutoff := b.now().Add(-b.retention)
	for id, t := range b.topics {
		if t.closed && t.closedAt.Before(cutoff) {
			delete(b.topics, id)
		}
	}
}
