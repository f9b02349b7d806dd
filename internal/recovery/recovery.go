// Package recovery rebuilds the in-memory registries from the store when the
// process starts. Only running entities are reloaded; finished ones stay
// queryable through the store.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/registry"
	"github.com/seantiz/warden/internal/store"
)

// Report counts what a Load did.
type Report struct {
	Jobs    int
	Cases   int
	Skipped int
}

// Loader repopulates the job and case registries from the store.
type Loader struct {
	store  store.Store
	jobs   *registry.Registry[*model.Job]
	cases  *registry.Registry[*model.Case]
	logger *slog.Logger
}

// NewLoader creates a loader.
func NewLoader(s store.Store, jobs *registry.Registry[*model.Job], cases *registry.Registry[*model.Case], logger *slog.Logger) *Loader {
	return &Loader{store: s, jobs: jobs, cases: cases, logger: logger}
}

// Load clears both registries and reloads every running job and case. It must
// complete before new work is accepted. A record that cannot be rebuilt or
// registered is logged and skipped; a store read failure aborts the load.
func (l *Loader) Load(ctx context.Context) (Report, error) {
	l.jobs.Reset()
	l.cases.Reset()

	var jobRep, caseRep Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, skipped, err := load(gctx, l, model.KindJob, model.JobFromRecord, l.jobs)
		jobRep = Report{Jobs: n, Skipped: skipped}
		return err
	})
	g.Go(func() error {
		n, skipped, err := load(gctx, l, model.KindCase, model.CaseFromRecord, l.cases)
		caseRep = Report{Cases: n, Skipped: skipped}
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{Jobs: jobRep.Jobs, Cases: caseRep.Cases, Skipped: jobRep.Skipped + caseRep.Skipped}
	recoveredEntities.WithLabelValues(model.KindJob).Set(float64(rep.Jobs))
	recoveredEntities.WithLabelValues(model.KindCase).Set(float64(rep.Cases))
	l.logger.Info("recovery complete",
		"jobs", rep.Jobs,
		"cases", rep.Cases,
		"skipped", rep.Skipped,
	)
	return rep, nil
}

type entity interface {
	registry.Entry
	EntityStatus() model.Status
}

func load[T entity](
	ctx context.Context,
	l *Loader,
	kind string,
	rebuild func(map[string]any) (T, error),
	reg *registry.Registry[T],
) (loaded, skipped int, err error) {
	records, err := l.store.GetAll(ctx, kind)
	if err != nil {
		return 0, 0, fmt.Errorf("load %s records: %w", kind, err)
	}

	for _, rec := range records {
		status, _ := rec["status"].(string)
		if !model.Status(status).IsRunning() {
			continue
		}
		e, err := rebuild(rec)
		if err == nil {
			err = reg.Add(e)
		}
		if err != nil {
			skipped++
			skippedRecords.WithLabelValues(kind).Inc()
			l.logger.Warn("skipping unrecoverable record",
				"kind", kind,
				"id", rec["id"],
				"error", err,
			)
			continue
		}
		loaded++
	}
	return loaded, skipped, nil
}
