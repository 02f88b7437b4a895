package toolmgr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors surfaced by Manager.Call and friends. Match them with
// errors.Is; the concrete error value is usually a *CallError or
// *ConnectError carrying the server context.
var (
	// ErrUnknownServer indicates the server name is absent from the registry.
	ErrUnknownServer = errors.New("unknown server")
	// ErrToolNotFound indicates the tool is not present in the server's
	// cached catalog. No transport round-trip is attempted.
	ErrToolNotFound = errors.New("tool not found")
	// ErrServerUnavailable indicates the connection is down and its retry
	// budget is spent. Calls fail fast until Reinitialize succeeds.
	ErrServerUnavailable = errors.New("server unavailable")
	// ErrManagerClosed indicates Shutdown has been invoked.
	ErrManagerClosed = errors.New("manager closed")

	// ErrCallTimeout indicates no response arrived within the configured
	// deadline for a single tool call.
	ErrCallTimeout = errors.New("call timed out")
	// ErrTransport indicates an I/O-level failure on the underlying stream
	// or process.
	ErrTransport = errors.New("transport failure")
	// ErrInvalidResponse indicates the server answered with something that
	// is not a valid response for the request.
	ErrInvalidResponse = errors.New("invalid response")
)

// CallError wraps a failed tool call with the server and tool involved so
// callers can report server+tool+error kind without string parsing.
type CallError struct {
	Server string
	Tool   string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("toolmgr: call %s/%s: %v", e.Server, e.Tool, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ConnectError reports a failed connection attempt, including how many
// attempts were made before giving up.
type ConnectError struct {
	Server   string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("toolmgr: connect %s (%d attempts): %v", e.Server, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// InitError is returned by Initialize when one or more startup-required
// servers could not be opened. The manager remains usable for the servers
// that did come up.
type InitError struct {
	Failed map[string]error
}

func (e *InitError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failed[name]))
	}
	return "toolmgr: required servers failed to initialize: " + strings.Join(parts, "; ")
}
