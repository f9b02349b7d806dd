package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/warden/internal/agent"
	"github.com/seantiz/warden/internal/lifecycle"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/notify"
	"github.com/seantiz/warden/internal/store"
)

var _ agent.CaseHost = (*Engine)(nil)

// CreateCase registers and starts a case under spec.JobID. When the job is
// live the case id is appended to its case_ids and the job is persisted.
func (e *Engine) CreateCase(ctx context.Context, spec model.CaseSpec) (*model.Case, error) {
	if spec.JobID == "" {
		return nil, errors.New("create case: job id is required")
	}
	if spec.ID == "" {
		spec.ID = model.NewID()
	}

	c := model.NewCase(spec, e.now())
	prev, replaced, err := e.cases.Swap(c)
	if err != nil {
		return nil, fmt.Errorf("register case: %w", err)
	}

	c.Lock()
	if err := e.coord.Persist(ctx, c); err != nil {
		c.Unlock()
		e.cases.Rollback(c, prev, replaced)
		return nil, err
	}
	err = e.coord.Fire(ctx, c, model.EventStartWork)
	out := c.Clone()
	c.Unlock()
	if err != nil {
		return nil, err
	}
	casesCreated.Inc()

	if job, ok := e.jobs.Get(spec.JobID, ""); ok {
		job.Lock()
		if job.AddCaseID(c.ID) {
			if err := e.coord.Persist(ctx, job); err != nil {
				e.logger.Error("failed to link case to job", "job_id", job.ID, "case_id", c.ID, "error", err)
			}
		}
		job.Unlock()
	}

	e.logger.Info("case created", "case_id", out.ID, "job_id", out.JobID)
	e.notify(ctx, caseEvent(notify.CaseStart, out, map[string]any{
		"name":        out.Name,
		"description": out.Description,
	}))
	return out, nil
}

// UpdateCase appends u to the case. An update carrying an error fails the
// case: a running case through error_encountered, an awaiting case through
// timeout_or_error. Updates to a case in a terminal status are rejected with
// ErrCaseClosed, and an error update the table cannot apply is rejected with
// a *lifecycle.TransitionError before anything is appended.
func (e *Engine) UpdateCase(ctx context.Context, caseID string, u model.CaseNodeUpdate) (*model.Case, error) {
	c, err := e.liveCase(caseID)
	if err != nil {
		return nil, err
	}

	c.Lock()
	if lifecycle.IsTerminal(c.Status) {
		status := c.Status
		c.Unlock()
		return nil, fmt.Errorf("case %s (status %s): %w", caseID, status, ErrCaseClosed)
	}

	var stored model.CaseNodeUpdate
	if u.HasError() {
		event := errorEvent(c.Status)
		if err := checkEvent(c, event); err != nil {
			c.Unlock()
			return nil, err
		}
		stored = c.AppendUpdate(u)
		err = e.coord.Fire(ctx, c, event)
	} else {
		stored = c.AppendUpdate(u)
		err = e.coord.Persist(ctx, c)
	}
	out := c.Clone()
	c.Unlock()
	if err != nil {
		return nil, err
	}

	e.notify(ctx, caseEvent(notify.CaseUpdate, out, updateDetails(stored)))
	return out, nil
}

// RequestHumanInput appends u and suspends the case until ReceiveHumanInput.
func (e *Engine) RequestHumanInput(ctx context.Context, caseID string, u model.CaseNodeUpdate, message string) (*model.Case, error) {
	c, err := e.liveCase(caseID)
	if err != nil {
		return nil, err
	}

	c.Lock()
	if err := checkEvent(c, model.EventAwaitingOnInput); err != nil {
		c.Unlock()
		return nil, err
	}
	stored := c.AppendUpdate(u)
	err = e.coord.Fire(ctx, c, model.EventAwaitingOnInput)
	out := c.Clone()
	c.Unlock()
	if err != nil {
		return nil, err
	}

	e.logger.Info("case awaiting input", "case_ref", out.CaseRef(), "message", message)
	details := updateDetails(stored)
	details["message"] = message
	if q, ok := stored.Question(); ok {
		details["question"] = q
	}
	e.notify(ctx, caseEvent(notify.CaseUpdate, out, details))
	return out, nil
}

// ReceiveHumanInput appends the answer u to an awaiting case and resumes it.
func (e *Engine) ReceiveHumanInput(ctx context.Context, caseID string, u model.CaseNodeUpdate) (*model.Case, error) {
	c, err := e.liveCase(caseID)
	if err != nil {
		return nil, err
	}

	c.Lock()
	if err := checkEvent(c, model.EventInputReceived); err != nil {
		c.Unlock()
		return nil, err
	}
	stored := c.AppendUpdate(u)
	err = e.coord.Fire(ctx, c, model.EventInputReceived)
	out := c.Clone()
	c.Unlock()
	if err != nil {
		return nil, err
	}

	e.notify(ctx, caseEvent(notify.CaseUpdate, out, updateDetails(stored)))
	return out, nil
}

// CloseCase completes the case with result as its final delivery. The total
// cost is finalCost when given, otherwise the sum of the update costs.
func (e *Engine) CloseCase(ctx context.Context, caseID string, result map[string]any, finalCost *float64) (*model.Case, error) {
	c, err := e.liveCase(caseID)
	if err != nil {
		return nil, err
	}

	c.Lock()
	if err := checkEvent(c, model.EventSuccessfullyDone); err != nil {
		c.Unlock()
		return nil, err
	}
	if finalCost != nil {
		c.TotalCost = *finalCost
	} else {
		c.TotalCost = c.CalculatedCost()
	}
	c.FinalDelivery = model.CloneMap(result)
	c.AppendUpdate(model.CaseNodeUpdate{Name: "final", Payload: result, IsFinal: true})
	err = e.coord.Fire(ctx, c, model.EventSuccessfullyDone)
	out := c.Clone()
	c.Unlock()
	if err != nil {
		return nil, err
	}

	e.logger.Info("case closed", "case_ref", out.CaseRef(), "total_cost", out.TotalCost)
	e.notify(ctx, caseEvent(notify.CaseEnd, out, map[string]any{
		"total_cost":     out.TotalCost,
		"final_delivery": out.FinalDelivery,
	}))
	return out, nil
}

// HandleCaseEvent fires event on a live case.
func (e *Engine) HandleCaseEvent(ctx context.Context, caseID string, event model.Event) (*model.Case, error) {
	c, err := e.liveCase(caseID)
	if err != nil {
		return nil, err
	}
	c.Lock()
	err = e.coord.Fire(ctx, c, event)
	out := c.Clone()
	c.Unlock()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCaseByID returns a copy of the case. jobID narrows the lookup when set.
// When the case is not live and includePersisted is true, the stored record
// is returned instead.
func (e *Engine) GetCaseByID(ctx context.Context, caseID, jobID string, includePersisted bool) (*model.Case, error) {
	if c, ok := e.cases.Get(caseID, jobID); ok {
		c.Lock()
		defer c.Unlock()
		return c.Clone(), nil
	}
	if !includePersisted {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}

	rec, err := e.store.GetByID(ctx, model.KindCase, caseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}
	if err != nil {
		return nil, err
	}
	c, err := model.CaseFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if jobID != "" && c.JobID != jobID {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}
	return c, nil
}

// ListCasesForJob returns copies of the job's live cases, sorted by id. With
// includePersisted, finished cases from the store are appended after them.
func (e *Engine) ListCasesForJob(ctx context.Context, jobID string, includePersisted bool) ([]*model.Case, error) {
	live := e.cases.GetAllForOwner(jobID)
	out := make([]*model.Case, 0, len(live))
	seen := make(map[string]bool, len(live))
	for _, c := range live {
		c.Lock()
		out = append(out, c.Clone())
		c.Unlock()
		seen[c.ID] = true
	}
	if !includePersisted {
		return out, nil
	}

	records, err := e.store.GetCasesForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		id, _ := rec["id"].(string)
		if seen[id] {
			continue
		}
		c, err := model.CaseFromRecord(rec)
		if err != nil {
			e.logger.Warn("skipping malformed case record", "case_id", id, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) liveCase(id string) (*model.Case, error) {
	c, ok := e.cases.Get(id, "")
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, ErrCaseNotFound)
	}
	return c, nil
}

// checkEvent validates that event may fire on c without changing anything.
// The caller holds c's lock.
func checkEvent(c *model.Case, event model.Event) error {
	if lifecycle.IsTerminal(c.Status) {
		return fmt.Errorf("case %s (status %s): %w", c.ID, c.Status, ErrCaseClosed)
	}
	if _, ok := lifecycle.EventResult(c.Status, event); !ok {
		return &lifecycle.TransitionError{
			Kind:   model.KindCase,
			ID:     c.ID,
			From:   c.Status,
			Reason: fmt.Sprintf("event %s not allowed from %s", event, c.Status),
		}
	}
	return nil
}

// errorEvent is the event an error update fires from status s.
func errorEvent(s model.Status) model.Event {
	if s == model.StatusAwaiting {
		return model.EventTimeoutOrError
	}
	return model.EventErrorEncountered
}

func caseEvent(typ string, c *model.Case, details map[string]any) notify.Event {
	return notify.Event{
		Type:       typ,
		ObjectType: model.KindCase,
		ObjectID:   c.ID,
		JobID:      c.JobID,
		Details:    details,
	}
}

func updateDetails(u model.CaseNodeUpdate) map[string]any {
	d := map[string]any{
		"index":    u.Index,
		"name":     u.Name,
		"is_final": u.IsFinal,
	}
	if u.Cost != nil {
		d["cost"] = *u.Cost
	}
	if u.Error != nil {
		d["error"] = *u.Error
	}
	return d
}
