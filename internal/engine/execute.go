package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/warden/internal/agent"
	"github.com/seantiz/warden/internal/lifecycle"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/notify"
)

// Result is the outcome of one scheduled work run. Err is an
// *ExecutionError when the work function failed; it may also carry a
// persistence error from recording the response. Response is the response
// that was handed to the job in either case.
type Result struct {
	Response model.JobResponse
	Err      error
}

// ScheduleWork runs the job's agent runner on its own goroutine and returns
// immediately. The returned channel receives exactly one Result and is then
// closed.
func (e *Engine) ScheduleWork(ctx context.Context, jobID string, fields map[string]any) (<-chan Result, error) {
	job, err := e.liveJob(jobID)
	if err != nil {
		return nil, err
	}

	job.Lock()
	status := job.Status
	work := agent.Work{
		JobID:      job.ID,
		AgentName:  job.AgentName,
		Fields:     model.CloneMap(fields),
		Context:    job.Context,
		Parameters: model.CloneMap(job.Parameters),
		Cases:      e,
	}
	job.Unlock()

	if !status.IsRunning() {
		return nil, fmt.Errorf("schedule job %s (status %s): %w", jobID, status, ErrJobNotRunning)
	}
	runner, err := e.agents.Resolve(work.AgentName)
	if err != nil {
		return nil, fmt.Errorf("schedule job %s: %w", jobID, err)
	}

	results := make(chan Result, 1)
	// The work outlives the caller's request; keep its values but not its
	// cancellation.
	workCtx := context.WithoutCancel(ctx)
	jobsScheduled.Inc()
	e.wg.Go(func() {
		defer close(results)
		results <- e.execute(workCtx, job, runner, work)
	})
	return results, nil
}

func (e *Engine) execute(ctx context.Context, job *model.Job, runner agent.Runner, work agent.Work) Result {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return e.fail(ctx, job, fmt.Errorf("acquire worker slot: %w", err))
	}
	defer e.sem.Release(1)

	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	ctx, span := e.tracer.Start(ctx, "engine.execute", trace.WithAttributes(
		attribute.String("job.id", work.JobID),
		attribute.String("agent.name", work.AgentName),
	))
	defer span.End()

	start := time.Now()
	resp, err := run(ctx, runner, work)
	jobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, job, err)
	}

	if resp.JobID == "" {
		resp.JobID = work.JobID
	}
	span.SetAttributes(attribute.String("job.response_status", string(resp.Status)))
	return Result{Response: resp, Err: e.handleResponse(ctx, job, resp)}
}

// run calls the runner, converting a panic into an error.
func run(ctx context.Context, runner agent.Runner, work agent.Work) (resp model.JobResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return runner.Run(ctx, work)
}

// fail records a failed response for job and returns the Result carrying the
// execution error.
func (e *Engine) fail(ctx context.Context, job *model.Job, cause error) Result {
	resp := model.JobResponse{
		JobID:   job.ID,
		Status:  model.StatusFailed,
		Message: fmt.Sprintf("Job execution failed: %v", cause),
		Error:   cause.Error(),
	}
	e.logger.Error("job execution failed", "job_id", job.ID, "error", cause)
	if err := e.handleResponse(ctx, job, resp); err != nil {
		e.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
	}
	return Result{Response: resp, Err: &ExecutionError{JobID: job.ID, Err: cause}}
}

// handleResponse applies a work outcome to the job. Terminal outcomes and
// cancelling are recorded and announced as the job's finish; awaiting is
// recorded without announcement; anything else is only logged.
func (e *Engine) handleResponse(ctx context.Context, job *model.Job, resp model.JobResponse) error {
	jobOutcomes.WithLabelValues(string(resp.Status)).Inc()

	switch {
	case lifecycle.IsTerminal(resp.Status) || resp.Status == model.StatusCancelling:
		err := e.recordResponse(ctx, job, resp)
		evType := notify.JobError
		if resp.Status == model.StatusCompleted {
			evType = notify.JobEnd
		}
		e.notify(ctx, notify.Event{
			Type:       evType,
			ObjectType: model.KindJob,
			ObjectID:   job.ID,
			JobID:      job.ID,
			Details: map[string]any{
				"status":  string(resp.Status),
				"message": resp.Message,
				"error":   resp.Error,
			},
		})
		return err
	case resp.Status == model.StatusAwaiting:
		return e.recordResponse(ctx, job, resp)
	default:
		e.logger.Warn("ignoring non-final job response",
			"job_id", job.ID,
			"status", resp.Status,
			"message", resp.Message,
		)
		return nil
	}
}

// recordResponse appends resp to the job and moves the job to the response's
// status when the table allows it. A cancelled response from a running job
// passes through cancelling. A status the table does not allow is logged and
// the response is still recorded.
func (e *Engine) recordResponse(ctx context.Context, job *model.Job, resp model.JobResponse) error {
	job.Lock()
	defer job.Unlock()

	job.ApplyResponse(resp)

	target := resp.Status
	if job.Status == target {
		return e.coord.Persist(ctx, job)
	}
	if target == model.StatusCancelled && lifecycle.CanTransition(job.Status, model.StatusCancelling) {
		if _, _, err := e.coord.Transition(ctx, job, model.StatusCancelling); err != nil {
			return err
		}
	}
	ok, reason, err := e.coord.Transition(ctx, job, target)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	e.logger.Warn("job response status not reachable",
		"job_id", job.ID,
		"status", job.Status,
		"response_status", target,
		"reason", reason,
	)
	return e.coord.Persist(ctx, job)
}
