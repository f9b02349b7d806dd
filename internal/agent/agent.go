package agent

import (
	"context"

	"github.com/seantiz/warden/internal/model"
)

// Runner performs the work of a job for one agent.
type Runner interface {
	// Run executes the job described by w and returns its outcome. Returning
	// an error (or panicking) marks the job failed. The context is cancelled
	// only on shutdown; cancellation requests for the job itself are
	// advisory and must be polled through w.Cases.CancelRequested.
	Run(ctx context.Context, w Work) (model.JobResponse, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, w Work) (model.JobResponse, error)

func (f RunnerFunc) Run(ctx context.Context, w Work) (model.JobResponse, error) {
	return f(ctx, w)
}

// Work is what a runner receives for one job.
type Work struct {
	JobID      string
	AgentName  string
	Fields     map[string]any
	Context    model.JobContext
	Parameters map[string]any

	// Cases lets the runner open and drive cases under the job.
	Cases CaseHost
}

// CaseHost is the subset of engine operations available to running work.
type CaseHost interface {
	CreateCase(ctx context.Context, spec model.CaseSpec) (*model.Case, error)
	UpdateCase(ctx context.Context, caseID string, u model.CaseNodeUpdate) (*model.Case, error)
	RequestHumanInput(ctx context.Context, caseID string, u model.CaseNodeUpdate, message string) (*model.Case, error)
	CloseCase(ctx context.Context, caseID string, result map[string]any, finalCost *float64) (*model.Case, error)
	// CancelRequested reports whether cancellation of the job was asked for.
	CancelRequested(jobID string) bool
}
