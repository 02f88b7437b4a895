package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autodrp/mcp-swarm-go/pkg/swarm"
	"github.com/autodrp/mcp-swarm-go/pkg/swarmstate"
	"github.com/autodrp/mcp-swarm-go/pkg/toolmgr"
)

const (
	workerAnalyzing swarmstate.WorkerID = "analyzing"
	workerData      swarmstate.WorkerID = "data"
	workerEnv       swarmstate.WorkerID = "env"
	workerCode      swarmstate.WorkerID = "code"
)

func main() {
	registryPath := os.Getenv("MCP_REGISTRY")
	if registryPath == "" {
		registryPath = "mcp.json"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := toolmgr.LoadRegistry(registryPath)
	if err != nil {
		logger.Error("load registry", "path", registryPath, "error", err)
		os.Exit(1)
	}
	for _, problem := range registry.Problems() {
		logger.Warn("registry entry disabled", "server", problem.Server, "error", problem.Err)
	}

	manager := toolmgr.NewManager(registry, &toolmgr.ManagerOptions{
		ClientName: "swarm-example",
		Logger:     logger,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("manager shutdown", "error", err)
		}
	}()

	if err := manager.Initialize(ctx); err != nil {
		var initErr *toolmgr.InitError
		if errors.As(err, &initErr) {
			logger.Error("required servers failed", "error", initErr)
			os.Exit(1)
		}
		logger.Error("initialize", "error", err)
		os.Exit(1)
	}

	store, err := swarmstate.NewStore(
		[]swarmstate.WorkerID{workerAnalyzing, workerData, workerEnv, workerCode},
		workerAnalyzing,
	)
	if err != nil {
		logger.Error("build store", "error", err)
		os.Exit(1)
	}
	dispatcher := swarmstate.NewDispatcher(store, swarmstate.Adjacency{
		workerAnalyzing: {workerData, workerEnv, workerCode},
		workerData:      {workerAnalyzing, workerCode},
		workerEnv:       {workerAnalyzing},
		workerCode:      {workerAnalyzing, workerData},
	})

	session, err := swarm.NewSession(manager, store, dispatcher, &swarm.Options{Logger: logger})
	if err != nil {
		logger.Error("build session", "error", err)
		os.Exit(1)
	}

	// Log state changes as they happen.
	sub := store.Watch()
	defer sub.Close()
	go func() {
		for ev := range sub.Events() {
			logger.Info("state change", "kind", ev.Kind, "worker", ev.Worker, "server", ev.Server)
		}
	}()

	session.SyncServerStatus()
	for name, status := range store.ServerStatuses() {
		logger.Info("server", "name", name, "state", status.State, "tools", len(status.Tools))
	}

	// A short control-flow round trip through the swarm.
	if err := session.StartWorkflow("bootstrap", []string{"survey", "gather"}); err != nil {
		logger.Error("start workflow", "error", err)
		os.Exit(1)
	}
	_ = session.UpdateWorkflowStep("survey", swarmstate.StepInProgress, workerAnalyzing, "")
	if err := session.RecordResult(workerAnalyzing, "initial analysis complete"); err != nil {
		logger.Error("record result", "error", err)
		os.Exit(1)
	}
	_ = session.UpdateWorkflowStep("survey", swarmstate.StepCompleted, workerAnalyzing, "")
	_ = session.UpdateWorkflowStep("gather", swarmstate.StepInProgress, workerData, "")
	if err := session.Handoff(workerAnalyzing, workerData, map[string]any{"task": "gather metrics"}); err != nil {
		logger.Error("handoff", "error", err)
		os.Exit(1)
	}
	if carried, ok := session.HandoffContext(workerData); ok {
		logger.Info("context received", "worker", workerData, "context", carried)
	}
	if err := session.Handoff(workerData, workerAnalyzing, "metrics gathered"); err != nil {
		logger.Error("handoff back", "error", err)
		os.Exit(1)
	}
	_ = session.UpdateWorkflowStep("gather", swarmstate.StepCompleted, workerData, "")

	for _, server := range manager.Servers() {
		for _, tool := range manager.Tools(server) {
			logger.Info("tool available", "server", server, "tool", tool.Name)
		}
	}

	logger.Info("swarm example finished", "active", session.ActiveWorker(), "handoffs", len(store.HandoffLog()))
}
