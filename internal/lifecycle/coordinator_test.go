package lifecycle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/warden/internal/lifecycle"
	"github.com/seantiz/warden/internal/model"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved []map[string]any
	err   error
}

func (s *recordingSaver) Save(_ context.Context, _ string, rec map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, rec)
	return nil
}

func newCoordinator(s lifecycle.Saver) *lifecycle.Coordinator {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return lifecycle.NewCoordinator(s, logger, lifecycle.WithClock(func() time.Time { return fixed }))
}

func newJob(status model.Status) *model.Job {
	j := model.NewJob("job-1", "test", "agent", model.JobContext{}, time.Now())
	j.Status = status
	return j
}

func TestStartThenDoneSetsFinishedAt(t *testing.T) {
	saver := &recordingSaver{}
	c := newCoordinator(saver)
	j := newJob(model.StatusStopped)
	ctx := context.Background()

	ok, _, err := c.HandleEvent(ctx, j, model.EventStartWork)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, j.FinishedAt)

	ok, _, err = c.HandleEvent(ctx, j, model.EventSuccessfullyDone)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, j.Status)
	require.NotNil(t, j.FinishedAt)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), *j.FinishedAt)

	require.Len(t, saver.saved, 2)
	assert.Equal(t, "completed", saver.saved[1]["status"])
}

func TestDoneFromStoppedIsRejected(t *testing.T) {
	saver := &recordingSaver{}
	c := newCoordinator(saver)
	j := newJob(model.StatusStopped)

	ok, reason, err := c.HandleEvent(context.Background(), j, model.EventSuccessfullyDone)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
	assert.Equal(t, model.StatusStopped, j.Status)
	assert.Nil(t, j.FinishedAt)
	assert.Empty(t, saver.saved, "rejected transitions must not persist")
}

func TestEventsOutsideTableLeaveStatusUnchanged(t *testing.T) {
	c := newCoordinator(&recordingSaver{})
	for _, s := range model.AllStatuses() {
		for _, ev := range model.AllEvents() {
			if _, ok := lifecycle.EventResult(s, ev); ok {
				continue
			}
			j := newJob(s)
			ok, _, err := c.HandleEvent(context.Background(), j, ev)
			require.NoError(t, err)
			assert.False(t, ok, "%s from %s accepted", ev, s)
			assert.Equal(t, s, j.Status)
		}
	}
}

func TestFinishedAtSetOnce(t *testing.T) {
	c := newCoordinator(&recordingSaver{})
	j := newJob(model.StatusCancelling)
	earlier := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	j.FinishedAt = &earlier

	ok, _, err := c.Transition(context.Background(), j, model.StatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, earlier, *j.FinishedAt)
}

func TestPersistenceFailureKeepsInMemoryChange(t *testing.T) {
	boom := errors.New("disk full")
	c := newCoordinator(&recordingSaver{err: boom})
	j := newJob(model.StatusInProgress)

	ok, _, err := c.HandleEvent(context.Background(), j, model.EventErrorEncountered)
	assert.True(t, ok)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, model.StatusFailed, j.Status)
	assert.NotNil(t, j.FinishedAt)
}

func TestFireReturnsTransitionError(t *testing.T) {
	c := newCoordinator(&recordingSaver{})
	cs := model.NewCase(model.CaseSpec{ID: "c1", JobID: "job-1"}, time.Now())
	cs.Status = model.StatusCompleted

	err := c.Fire(context.Background(), cs, model.EventInputReceived)
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	var te *lifecycle.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.KindCase, te.Kind)
	assert.Equal(t, "c1", te.ID)
	assert.Equal(t, model.StatusCompleted, te.From)
}
