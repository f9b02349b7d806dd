package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/seantiz/warden/internal/agent"
	"github.com/seantiz/warden/internal/lifecycle"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/notify"
	"github.com/seantiz/warden/internal/registry"
	"github.com/seantiz/warden/internal/store"
)

// DefaultMaxConcurrentJobs bounds how many work functions run at once when
// no limit is configured.
const DefaultMaxConcurrentJobs = 16

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrCaseNotFound  = errors.New("case not found")
	ErrCaseClosed    = errors.New("case is closed")
	ErrJobNotRunning = errors.New("job is not running")
	ErrInvalidJob    = errors.New("invalid job request")
)

// ExecutionError is delivered on a work Result when the work function
// returned an error or panicked. By the time it is delivered the job has
// already been recorded as failed.
type ExecutionError struct {
	JobID string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %s execution failed: %v", e.JobID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets where lifecycle events are sent. The default drops them.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithDecoder sets how encrypted job parameters are turned into a map.
func WithDecoder(d ParamDecoder) Option {
	return func(e *Engine) { e.decoder = d }
}

// WithMaxConcurrentJobs bounds the number of work functions running at once.
func WithMaxConcurrentJobs(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrent = n
		}
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine creates jobs and cases, runs job work asynchronously and drives
// status changes from the outcomes.
type Engine struct {
	store    store.Store
	jobs     *registry.Registry[*model.Job]
	cases    *registry.Registry[*model.Case]
	agents   *agent.Registry
	coord    *lifecycle.Coordinator
	logger   *slog.Logger
	notifier notify.Notifier
	decoder  ParamDecoder
	tracer   trace.Tracer
	now      func() time.Time

	maxConcurrent int
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
}

// NewEngine creates a new engine. The registries should already have been
// populated by recovery.
func NewEngine(
	s store.Store,
	jobs *registry.Registry[*model.Job],
	cases *registry.Registry[*model.Case],
	agents *agent.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:         s,
		jobs:          jobs,
		cases:         cases,
		agents:        agents,
		logger:        logger,
		notifier:      notify.Nop,
		decoder:       JSONDecoder{},
		tracer:        otel.Tracer("github.com/seantiz/warden/internal/engine"),
		now:           time.Now,
		maxConcurrent: DefaultMaxConcurrentJobs,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = semaphore.NewWeighted(int64(e.maxConcurrent))
	e.coord = lifecycle.NewCoordinator(s, logger, lifecycle.WithClock(e.now))
	return e
}

// Wait blocks until all in-flight work goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// CreateJobRequest describes a job to create.
type CreateJobRequest struct {
	// ID is optional. When empty the context job id is used, then a new UUID.
	ID        string
	Name      string
	AgentName string
	Context   model.JobContext

	Parameters map[string]any
	// EncryptedParameters, when set, is decoded and merged over Parameters.
	EncryptedParameters string
}

// CreateJob records a new job, starts it and sends the start confirmation.
func (e *Engine) CreateJob(ctx context.Context, req CreateJobRequest) (*model.Job, error) {
	if req.AgentName == "" {
		return nil, fmt.Errorf("%w: agent name is required", ErrInvalidJob)
	}

	params := model.CloneMap(req.Parameters)
	if req.EncryptedParameters != "" {
		decoded, err := e.decoder.Decode(ctx, req.EncryptedParameters)
		if err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		if params == nil {
			params = make(map[string]any, len(decoded))
		}
		for k, v := range decoded {
			params[k] = v
		}
	}

	id := req.ID
	if id == "" {
		id = req.Context.JobID
	}
	if id == "" {
		id = model.NewJobID()
	}
	name := req.Name
	if name == "" {
		name = req.Context.MissionName
	}

	job := model.NewJob(id, name, req.AgentName, req.Context, e.now())
	job.Parameters = params
	prev, replaced, err := e.jobs.Swap(job)
	if err != nil {
		return nil, fmt.Errorf("register job: %w", err)
	}

	job.Lock()
	if err := e.coord.Persist(ctx, job); err != nil {
		job.Unlock()
		e.jobs.Rollback(job, prev, replaced)
		return nil, err
	}
	err = e.coord.Fire(ctx, job, model.EventStartWork)
	out := job.Clone()
	job.Unlock()
	if err != nil {
		return nil, err
	}

	e.logger.Info("job created", "job_id", out.ID, "agent", out.AgentName)
	e.notify(ctx, notify.Event{
		Type:       notify.JobStartConfirmation,
		ObjectType: model.KindJob,
		ObjectID:   out.ID,
		JobID:      out.ID,
		Details:    map[string]any{"agent_name": out.AgentName, "name": out.Name},
	})
	return out, nil
}

// GetJobByID returns a copy of the job. agentName narrows the lookup when
// set. When the job is not live and includePersisted is true, the stored
// record is returned instead.
func (e *Engine) GetJobByID(ctx context.Context, id, agentName string, includePersisted bool) (*model.Job, error) {
	if job, ok := e.jobs.Get(id, agentName); ok {
		job.Lock()
		defer job.Unlock()
		return job.Clone(), nil
	}
	if !includePersisted {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	rec, err := e.store.GetByID(ctx, model.KindJob, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, err
	}
	job, err := model.JobFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if agentName != "" && job.AgentName != agentName {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, nil
}

// ListJobsForAgent returns copies of the live jobs owned by agentName.
func (e *Engine) ListJobsForAgent(agentName string) []*model.Job {
	jobs := e.jobs.GetAllForOwner(agentName)
	out := make([]*model.Job, 0, len(jobs))
	for _, job := range jobs {
		job.Lock()
		out = append(out, job.Clone())
		job.Unlock()
	}
	return out
}

// CancelJob records a cancellation request. Cancellation is advisory: the
// job moves to cancelling, and running work is expected to notice through
// CancelRequested and report a cancelled response. Nothing is interrupted.
func (e *Engine) CancelJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := e.liveJob(jobID)
	if err != nil {
		return nil, err
	}

	job.Lock()
	event := model.EventCancelRequested
	if job.Status == model.StatusAwaiting {
		event = model.EventCancelWhileWaiting
	}
	err = e.coord.Fire(ctx, job, event)
	out := job.Clone()
	job.Unlock()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmCancel moves a cancelling job to cancelled and announces the
// job's finish.
func (e *Engine) ConfirmCancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := e.HandleJobEvent(ctx, jobID, model.EventCancelConfirmed)
	if err != nil {
		return nil, err
	}
	e.notify(ctx, notify.Event{
		Type:       notify.JobError,
		ObjectType: model.KindJob,
		ObjectID:   job.ID,
		JobID:      job.ID,
		Details:    map[string]any{"status": string(job.Status), "message": "cancelled"},
	})
	return job, nil
}

// CancelRequested reports whether cancellation was requested for a live job.
func (e *Engine) CancelRequested(jobID string) bool {
	job, ok := e.jobs.Get(jobID, "")
	if !ok {
		return false
	}
	job.Lock()
	defer job.Unlock()
	return job.Status == model.StatusCancelling || job.Status == model.StatusCancelled
}

// HandleJobEvent fires event on a live job. External watchdogs use it to
// deliver events the engine does not raise itself, such as timeout_or_error.
func (e *Engine) HandleJobEvent(ctx context.Context, jobID string, event model.Event) (*model.Job, error) {
	job, err := e.liveJob(jobID)
	if err != nil {
		return nil, err
	}
	job.Lock()
	err = e.coord.Fire(ctx, job, event)
	out := job.Clone()
	job.Unlock()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckLimits evaluates the job's instructions against its live cases and
// elapsed time. Jobs without instructions always pass.
func (e *Engine) CheckLimits(jobID string) (bool, string, error) {
	job, err := e.liveJob(jobID)
	if err != nil {
		return false, "", err
	}

	job.Lock()
	var ins model.JobInstructions
	hasLimits := job.Context.Instructions != nil
	if hasLimits {
		ins = *job.Context.Instructions
	}
	started := job.Context.StartedAt
	if started.IsZero() {
		started = job.CreatedAt
	}
	job.Unlock()

	if !hasLimits {
		return true, "", nil
	}

	cases := e.cases.GetAllForOwner(jobID)
	var cost float64
	for _, c := range cases {
		c.Lock()
		if c.Finished() {
			cost += c.TotalCost
		} else {
			cost += c.CalculatedCost()
		}
		c.Unlock()
	}

	ok, reason := ins.Check(len(cases), cost, e.now().Sub(started))
	return ok, reason, nil
}

func (e *Engine) liveJob(id string) (*model.Job, error) {
	job, ok := e.jobs.Get(id, "")
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, nil
}

// notify sends ev and logs any failure. Notification never fails an operation.
func (e *Engine) notify(ctx context.Context, ev notify.Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now().UTC()
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		notifyFailures.WithLabelValues(ev.Type).Inc()
		e.logger.Warn("failed to send notification",
			"type", ev.Type,
			"object_id", ev.ObjectID,
			"job_id", ev.JobID,
			"error", err,
		)
	}
}
