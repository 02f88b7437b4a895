package swarm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/autodrp/mcp-swarm-go/pkg/swarmstate"
	"github.com/autodrp/mcp-swarm-go/pkg/toolmgr"
)

func newTestSession(t *testing.T) (*Session, *swarmstate.Store) {
	t.Helper()
	reg, err := toolmgr.NewRegistry([]toolmgr.ServerDescriptor{
		{Name: "alpha", Transport: toolmgr.TransportStdio, Command: "cat", Enabled: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	manager := toolmgr.NewManager(reg, &toolmgr.ManagerOptions{
		HealthInterval: -1,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	store, err := swarmstate.NewStore([]swarmstate.WorkerID{"analyzing", "data"}, "analyzing")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	dispatcher := swarmstate.NewDispatcher(store, swarmstate.Adjacency{
		"analyzing": {"data"},
		"data":      {"analyzing"},
	})
	session, err := NewSession(manager, store, dispatcher, &Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return session, store
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSession(nil, nil, nil, nil); err == nil {
		t.Fatal("NewSession accepted nil dependencies")
	}
}

func TestSessionHandoffFlow(t *testing.T) {
	t.Parallel()

	session, store := newTestSession(t)
	if session.ActiveWorker() != "analyzing" {
		t.Fatalf("active = %q", session.ActiveWorker())
	}

	if err := session.Handoff("analyzing", "data", "investigate"); err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if session.ActiveWorker() != "data" {
		t.Errorf("active = %q, want data", session.ActiveWorker())
	}
	ctx, ok := session.HandoffContext("data")
	if !ok || ctx != "investigate" {
		t.Errorf("context = %v, %v", ctx, ok)
	}

	// Control already moved on; the stale requester loses.
	err := session.Handoff("analyzing", "data", nil)
	if !errors.Is(err, swarmstate.ErrNotActive) {
		t.Errorf("err = %v, want ErrNotActive", err)
	}
	if len(store.HandoffLog()) != 1 {
		t.Errorf("handoff log = %d entries, want 1", len(store.HandoffLog()))
	}
}

func TestSessionResultsAndErrors(t *testing.T) {
	t.Parallel()

	session, store := newTestSession(t)
	if err := session.RecordResult("data", "finding"); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	results := session.Results("data")
	if len(results) != 1 || results[0].Payload != "finding" {
		t.Errorf("results = %+v", results)
	}

	if err := session.RecordError("data", "tool_call", "upstream closed"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if errs := store.Errors(); len(errs) != 1 || errs[0].Kind != "tool_call" {
		t.Errorf("errors = %+v", store.Errors())
	}
}

func TestSessionWorkflowTracking(t *testing.T) {
	t.Parallel()

	session, store := newTestSession(t)
	if err := session.StartWorkflow("bootstrap", []string{"survey", "gather"}); err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if err := session.UpdateWorkflowStep("survey", swarmstate.StepInProgress, "analyzing", ""); err != nil {
		t.Fatalf("UpdateWorkflowStep: %v", err)
	}
	name, steps := store.Workflow()
	if name != "bootstrap" {
		t.Errorf("workflow = %q", name)
	}
	if steps[0].Status != swarmstate.StepInProgress || steps[0].Worker != "analyzing" {
		t.Errorf("step = %+v", steps[0])
	}
}

func TestSessionCallToolPropagatesManagerErrors(t *testing.T) {
	t.Parallel()

	session, _ := newTestSession(t)
	// Connection was never opened; the manager fails fast.
	_, err := session.CallTool(context.Background(), "alpha", "echo", nil)
	if !errors.Is(err, toolmgr.ErrServerUnavailable) {
		t.Errorf("err = %v, want ErrServerUnavailable", err)
	}
}

func TestSyncServerStatus(t *testing.T) {
	t.Parallel()

	session, store := newTestSession(t)
	session.SyncServerStatus()

	statuses := store.ServerStatuses()
	status, ok := statuses["alpha"]
	if !ok {
		t.Fatal("alpha missing from server status mirror")
	}
	if status.State != string(toolmgr.StateDisconnected) {
		t.Errorf("state = %q, want disconnected before initialize", status.State)
	}
	if status.CheckedAt.IsZero() {
		t.Error("CheckedAt not stamped")
	}
}
