// Package swarmstate maintains the shared coordination state of a worker
// swarm: which worker currently holds control, the append-only result
// history of every worker, the handoff log with its carried context, worker
// statuses, an error stack, and a mirror of tool-server availability.
//
// Exactly one Store exists per running session. Every mutation funnels
// through the store's mutex and critical sections are pure in-memory
// mutation, so concurrent workers never observe a half-applied handoff or a
// torn result append. Dispatcher layers the static worker-to-worker
// adjacency policy on top, rejecting forbidden transfers before they reach
// the store. Watch exposes a best-effort event feed of state changes.
package swarmstate
