package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpgateway "github.com/autodrp/mcp-swarm-go/pkg/mcp-gateway"
	"github.com/autodrp/mcp-swarm-go/pkg/toolmgr"
)

func main() {
	registryPath := os.Getenv("MCP_REGISTRY")
	if registryPath == "" {
		registryPath = "mcp.json"
	}
	addr := os.Getenv("GATEWAY_ADDR")

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

	gateway, err := mcpgateway.NewGateway(registry, &mcpgateway.Options{
		Addr:   addr,
		Logger: logger,
	})
	if err != nil {
		logger.Error("build gateway", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway serving", "servers", gateway.Servers())
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}
