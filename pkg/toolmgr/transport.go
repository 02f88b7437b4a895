package toolmgr

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const sessionIDHeaderName = "Mcp-Session-Id"

// transportCandidates returns the ordered transports to attempt for a
// descriptor. Stdio servers have exactly one candidate; HTTP servers get a
// Streamable transport with an SSE fallback, or SSE first when the endpoint
// looks like an SSE gateway path (/sse or /sse/<server>).
func (m *Manager) transportCandidates(desc ServerDescriptor, tracker *sessionIDTracker) ([]mcp.Transport, error) {
	switch desc.Transport {
	case TransportStdio:
		if desc.Command == "" {
			return nil, fmt.Errorf("toolmgr: command missing for %q", desc.Name)
		}
		cmd := exec.Command(desc.Command, desc.Args...)
		if len(desc.Env) > 0 {
			env := os.Environ()
			for k, v := range desc.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		return []mcp.Transport{&mcp.CommandTransport{Command: cmd}}, nil
	case TransportHTTP:
		if desc.Endpoint == "" {
			return nil, fmt.Errorf("toolmgr: endpoint missing for %q", desc.Name)
		}
		client := m.decorateHTTPClient(desc, tracker)
		streamable := &mcp.StreamableClientTransport{
			Endpoint:   desc.Endpoint,
			HTTPClient: client,
		}
		sse := &mcp.SSEClientTransport{
			Endpoint:   desc.Endpoint,
			HTTPClient: client,
		}
		if endpointPrefersSSE(desc.Endpoint) {
			return []mcp.Transport{sse}, nil
		}
		return []mcp.Transport{streamable, sse}, nil
	default:
		return nil, fmt.Errorf("toolmgr: unsupported transport %q for %q", desc.Transport, desc.Name)
	}
}

// endpointPrefersSSE reports whether the endpoint path indicates the SSE
// transport, covering both direct /sse endpoints and gateway-rewritten
// /sse/<server> paths.
func endpointPrefersSSE(endpoint string) bool {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return strings.HasSuffix(strings.TrimSpace(endpoint), "/sse")
	}
	path := strings.TrimSuffix(u.Path, "/")
	return strings.HasSuffix(path, "/sse") || strings.Contains(path, "/sse/")
}

func (m *Manager) decorateHTTPClient(desc ServerDescriptor, tracker *sessionIDTracker) *http.Client {
	base := m.opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	if len(desc.Headers) == 0 && tracker == nil {
		return base
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: desc.Headers,
		tracker: tracker,
	}
	return &clone
}

// headerDecorator injects per-server headers and the negotiated session ID
// into every outbound request.
type headerDecorator struct {
	next    http.RoundTripper
	headers map[string]string
	tracker *sessionIDTracker
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	if d.tracker != nil {
		if sessionID := d.tracker.Value(); sessionID != "" {
			req.Header.Set(sessionIDHeaderName, sessionID)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

type sessionIDTracker struct {
	mu    sync.RWMutex
	value string
}

func (s *sessionIDTracker) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

func (s *sessionIDTracker) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}
