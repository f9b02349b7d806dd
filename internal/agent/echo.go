package agent

import (
	"context"
	"fmt"

	"github.com/seantiz/warden/internal/model"
)

// EchoName is the agent name the built-in echo runner is registered under.
const EchoName = "echo"

// Echo returns a runner that opens one case, records the job fields on it,
// closes it and completes the job with the fields as payload. It is useful for
// smoke-testing a deployment.
func Echo() Runner {
	return RunnerFunc(func(ctx context.Context, w Work) (model.JobResponse, error) {
		c, err := w.Cases.CreateCase(ctx, model.CaseSpec{
			JobID:       w.JobID,
			Name:        "echo",
			Description: "echo job fields",
			Nodes:       []model.CaseNode{{Name: "echo", Description: "echo fields", Type: model.NodeDelivery}},
		})
		if err != nil {
			return model.JobResponse{}, fmt.Errorf("create case: %w", err)
		}
		if _, err := w.Cases.UpdateCase(ctx, c.ID, model.CaseNodeUpdate{Name: "echo", Payload: w.Fields}); err != nil {
			return model.JobResponse{}, fmt.Errorf("update case: %w", err)
		}
		if w.Cases.CancelRequested(w.JobID) {
			return model.JobResponse{JobID: w.JobID, Status: model.StatusCancelled, Message: "cancelled"}, nil
		}
		if _, err := w.Cases.CloseCase(ctx, c.ID, w.Fields, nil); err != nil {
			return model.JobResponse{}, fmt.Errorf("close case: %w", err)
		}
		return model.JobResponse{
			JobID:   w.JobID,
			Status:  model.StatusCompleted,
			Message: "echoed",
			Payload: w.Fields,
		}, nil
	})
}
