// Package swarm exposes the only surface agent workers may use: tool calls
// by server name, result recording, and control handoff. Workers never hold
// a connection or touch the registry; everything funnels through a Session
// that pairs the connection manager with the coordination state store.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/autodrp/mcp-swarm-go/pkg/swarmstate"
	"github.com/autodrp/mcp-swarm-go/pkg/toolmgr"
)

// Options configure a Session.
type Options struct {
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Session is the worker-facing API of a running swarm.
type Session struct {
	manager    *toolmgr.Manager
	store      *swarmstate.Store
	dispatcher *swarmstate.Dispatcher
	logger     *slog.Logger
}

// NewSession wires the connection manager, state store, and handoff policy
// into a single worker-facing surface.
func NewSession(manager *toolmgr.Manager, store *swarmstate.Store, dispatcher *swarmstate.Dispatcher, opts *Options) (*Session, error) {
	if manager == nil {
		return nil, fmt.Errorf("swarm: manager is required")
	}
	if store == nil {
		return nil, fmt.Errorf("swarm: store is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("swarm: dispatcher is required")
	}
	logger := slog.Default()
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	}
	return &Session{manager: manager, store: store, dispatcher: dispatcher, logger: logger}, nil
}

// CallTool invokes a tool on the named server through the connection
// manager.
func (s *Session) CallTool(ctx context.Context, server, tool string, args any) (*mcp.CallToolResult, error) {
	return s.manager.Call(ctx, server, tool, args)
}

// RecordResult appends a result to the worker's history.
func (s *Session) RecordResult(worker swarmstate.WorkerID, payload any) error {
	_, err := s.store.RecordResult(worker, payload)
	return err
}

// Results returns the worker's result history in submission order.
func (s *Session) Results(worker swarmstate.WorkerID) []swarmstate.WorkerResult {
	return s.store.Results(worker)
}

// Handoff transfers control from one worker to another, carrying context to
// the new active worker. The transfer is validated against the static
// adjacency policy before it reaches the state store.
func (s *Session) Handoff(from, to swarmstate.WorkerID, context any) error {
	rec, err := s.dispatcher.RequestHandoff(from, to, context)
	if err != nil {
		return err
	}
	s.logger.Info("handoff applied", "from", rec.From, "to", rec.To, "handoff_id", rec.ID)
	return nil
}

// ActiveWorker returns the worker currently holding control.
func (s *Session) ActiveWorker() swarmstate.WorkerID {
	return s.store.ActiveWorker()
}

// HandoffContext returns the context carried by the most recent handoff to
// the worker. Reads are idempotent until a later handoff supersedes them.
func (s *Session) HandoffContext(worker swarmstate.WorkerID) (any, bool) {
	return s.store.HandoffContext(worker)
}

// StartWorkflow begins a named workflow whose steps the swarm will track.
func (s *Session) StartWorkflow(name string, steps []string) error {
	return s.store.StartWorkflow(name, steps)
}

// UpdateWorkflowStep moves a tracked step to a new status.
func (s *Session) UpdateWorkflowStep(step string, status swarmstate.WorkflowStatus, worker swarmstate.WorkerID, errMsg string) error {
	return s.store.UpdateWorkflowStep(step, status, worker, errMsg)
}

// RecordError appends to the session's error stack.
func (s *Session) RecordError(worker swarmstate.WorkerID, kind, message string) error {
	return s.store.RecordError(worker, kind, message)
}

// SyncServerStatus refreshes the store's per-server availability mirror
// from the connection manager's current snapshots, so handoff decisions can
// consult tool availability without reaching into the manager.
func (s *Session) SyncServerStatus() {
	now := time.Now()
	for _, name := range s.manager.Servers() {
		info, ok := s.manager.Info(name)
		if !ok {
			continue
		}
		tools := make([]string, 0, len(info.Tools))
		for _, tool := range info.Tools {
			tools = append(tools, tool.Name)
		}
		s.store.UpdateServerStatus(swarmstate.ServerStatus{
			Name:      name,
			State:     string(info.State),
			CheckedAt: now,
			Tools:     tools,
		})
	}
}
