package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/notify"
)

func caseUpdate(jobID string) notify.Event {
	return notify.Event{Type: notify.CaseUpdate, ObjectType: model.KindCase, ObjectID: "c1", JobID: jobID}
}

func TestBrokerDeliversUntilJobEnds(t *testing.T) {
	b := notify.NewBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	ctx := context.Background()
	b.Notify(ctx, caseUpdate("j1"))
	b.Notify(ctx, caseUpdate("j2"))
	b.Notify(ctx, notify.Event{Type: notify.JobEnd, ObjectType: model.KindJob, ObjectID: "j1", JobID: "j1"})

	var got []string
	for ev := range ch {
		got = append(got, ev.Type)
	}
	if len(got) != 2 || got[0] != notify.CaseUpdate || got[1] != notify.JobEnd {
		t.Errorf("got %v, want [case.update job.end]", got)
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := notify.NewBroker()
	ch1, unsub1 := b.Subscribe("j1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("j1")
	defer unsub2()

	b.Notify(context.Background(), caseUpdate("j1"))
	b.Close("j1")

	n1, n2 := 0, 0
	for range ch1 {
		n1++
	}
	for range ch2 {
		n2++
	}
	if n1 != 1 || n2 != 1 {
		t.Errorf("subscribers got %d and %d events, want 1 each", n1, n2)
	}
}

func TestBrokerLateSubscriberGetsClosedChannel(t *testing.T) {
	b := notify.NewBroker()
	b.Close("j1")

	ch, unsub := b.Subscribe("j1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel for finished job")
	}
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := notify.NewBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	for i := 0; i < 200; i++ {
		b.Notify(context.Background(), caseUpdate("j1"))
	}
	b.Close("j1")

	n := 0
	for range ch {
		n++
	}
	if n != 64 {
		t.Errorf("received %d events, want buffer size 64", n)
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := notify.NewBroker()
	ch, unsub := b.Subscribe("j1")
	unsub()

	b.Notify(context.Background(), caseUpdate("j1"))
	select {
	case ev := <-ch:
		t.Errorf("received %v after unsubscribe", ev)
	default:
	}
}

func jobEvent(typ, jobID, status string) notify.Event {
	return notify.Event{
		Type:       typ,
		ObjectType: model.KindJob,
		ObjectID:   jobID,
		JobID:      jobID,
		Details:    map[string]any{"status": status},
	}
}

func TestBrokerKeepsStreamOpenWhileCancelling(t *testing.T) {
	b := notify.NewBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	ctx := context.Background()
	b.Notify(ctx, jobEvent(notify.JobError, "j1", string(model.StatusCancelling)))
	b.Notify(ctx, caseUpdate("j1"))
	b.Notify(ctx, jobEvent(notify.JobError, "j1", string(model.StatusCancelled)))

	var got []string
	for ev := range ch {
		got = append(got, ev.Type)
	}
	want := []string{notify.JobError, notify.CaseUpdate, notify.JobError}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBrokerEvictsClosedTopics(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := notify.NewBroker(
		notify.WithRetention(time.Minute),
		notify.WithBrokerClock(func() time.Time { return now }),
	)

	b.Close("j1")
	if n := b.TopicCount(); n != 1 {
		t.Fatalf("topics after close = %d, want 1", n)
	}

	now = now.Add(2 * time.Minute)
	b.Close("j2")
	if n := b.TopicCount(); n != 1 {
		t.Errorf("topics after retention = %d, want 1", n)
	}

	_, unsub := b.Subscribe("unknown")
	if n := b.TopicCount(); n != 2 {
		t.Errorf("topics with a subscriber = %d, want 2", n)
	}
	unsub()
	if n := b.TopicCount(); n != 1 {
		t.Errorf("topics after last unsubscribe = %d, want 1", n)
	}
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	m := notify.Multi{
		notify.Func(func(context.Context, notify.Event) error { calls++; return boom }),
		notify.NewLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		notify.Func(func(context.Context, notify.Event) error { calls++; return nil }),
	}

	err := m.Notify(context.Background(), caseUpdate("j1"))
	if !errors.Is(err, boom) {
		t.Errorf("Notify error = %v, want boom", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if err := notify.Nop.Notify(context.Background(), caseUpdate("j1")); err != nil {
		t.Errorf("Nop.Notify = %v", err)
	}
}
