package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seantiz/warden/internal/agent"
	"github.com/seantiz/warden/internal/model"
)

func stubRunner(status model.Status) agent.Runner {
	return agent.RunnerFunc(func(_ context.Context, w agent.Work) (model.JobResponse, error) {
		return model.JobResponse{JobID: w.JobID, Status: status}, nil
	})
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("scraper", stubRunner(model.StatusCompleted))
	reg.Register("analyst", stubRunner(model.StatusCompleted))

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d agents, want 2", len(list))
	}
	if list[0] != "analyst" || list[1] != "scraper" {
		t.Errorf("List() = %v, want sorted names", list)
	}
	if !reg.Has("scraper") || reg.Has("missing") {
		t.Error("Has() mismatch")
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("scraper", stubRunner(model.StatusAwaiting))

	r, err := reg.Resolve("scraper")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	resp, err := r.Run(context.Background(), agent.Work{JobID: "j1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.JobID != "j1" || resp.Status != model.StatusAwaiting {
		t.Errorf("Run() = %+v", resp)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := agent.NewRegistry()
	_, err := reg.Resolve("ghost")
	if !errors.Is(err, agent.ErrUnknownAgent) {
		t.Errorf("Resolve error = %v, want ErrUnknownAgent", err)
	}
}

func TestRegisterReplaces(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("a", stubRunner(model.StatusFailed))
	reg.Register("a", stubRunner(model.StatusCompleted))

	r, _ := reg.Resolve("a")
	resp, _ := r.Run(context.Background(), agent.Work{})
	if resp.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", resp.Status)
	}
}
