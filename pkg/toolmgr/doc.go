// Package toolmgr manages a fleet of tool servers (external processes or
// HTTP services exposing callable capabilities) on behalf of concurrent
// agent workers. It layers connection lifecycle tracking, bounded
// retry/backoff, periodic health checks, and per-server tool-catalog caching
// on top of the modelcontextprotocol/go-sdk client so callers can issue
// calls by server name without touching transports.
//
// # Core entry points
//
//   - Registry describes the known servers. Load one from the mcp.json shape
//     with LoadRegistry/ParseRegistry or build one programmatically with
//     NewRegistry.
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, open all enabled servers with Initialize, invoke tools
//     with Call, and tear everything down with Shutdown.
//   - ManagerOptions tune timeouts, the retry budget, health probing,
//     logging, and tracing.
//
// Failed calls carry a *CallError; match the failure kind with errors.Is
// against ErrUnknownServer, ErrToolNotFound, ErrServerUnavailable,
// ErrCallTimeout, ErrTransport, or ErrInvalidResponse. A server whose retry
// budget is exhausted fails fast until Reinitialize is invoked explicitly.
package toolmgr
