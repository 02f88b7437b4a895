package toolmgr

import (
	"net/http"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestEndpointPrefersSSE(t *testing.T) {
	t.Parallel()

	cases := []struct {
		endpoint string
		want     bool
	}{
		{"https://example.com/mcp", false},
		{"https://example.com/sse", true},
		{"https://example.com/sse/", true},
		{"https://example.com/sse/alpha", true},
		{"http://localhost:8700/mcp/alpha", false},
		{"https://example.com/assets", false},
		{"  https://example.com/sse  ", true},
	}
	for _, tc := range cases {
		if got := endpointPrefersSSE(tc.endpoint); got != tc.want {
			t.Errorf("endpointPrefersSSE(%q) = %v, want %v", tc.endpoint, got, tc.want)
		}
	}
}

func TestHeaderDecorator(t *testing.T) {
	t.Parallel()

	tracker := &sessionIDTracker{}
	tracker.Set("session-123")

	var seen http.Header
	decorator := &headerDecorator{
		next: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			seen = req.Header
			return &http.Response{StatusCode: http.StatusOK, Request: req}, nil
		}),
		headers: map[string]string{"Authorization": "Bearer abc"},
		tracker: tracker,
	}

	req, _ := http.NewRequest(http.MethodPost, "http://example.com/mcp", nil)
	if _, err := decorator.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if seen.Get("Authorization") != "Bearer abc" {
		t.Errorf("Authorization = %q", seen.Get("Authorization"))
	}
	if seen.Get("Mcp-Session-Id") != "session-123" {
		t.Errorf("Mcp-Session-Id = %q", seen.Get("Mcp-Session-Id"))
	}
}

func TestHeaderDecoratorWithoutTracker(t *testing.T) {
	t.Parallel()

	decorator := &headerDecorator{
		next: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Mcp-Session-Id") != "" {
				t.Error("session header set without a tracked session")
			}
			return &http.Response{StatusCode: http.StatusOK, Request: req}, nil
		}),
		headers: map[string]string{"X-Env": "test"},
	}
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/sse", nil)
	if _, err := decorator.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
}

func TestTransportCandidates(t *testing.T) {
	t.Parallel()

	m := NewManager(&Registry{byName: map[string]ServerDescriptor{}}, testOptions())

	stdio := ServerDescriptor{Name: "s", Transport: TransportStdio, Command: "cat", Args: []string{"-"}}
	candidates, err := m.transportCandidates(stdio, nil)
	if err != nil {
		t.Fatalf("stdio candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("stdio candidates = %d, want 1", len(candidates))
	}

	httpDesc := ServerDescriptor{Name: "h", Transport: TransportHTTP, Endpoint: "https://example.com/mcp"}
	candidates, err = m.transportCandidates(httpDesc, &sessionIDTracker{})
	if err != nil {
		t.Fatalf("http candidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("http candidates = %d, want streamable plus sse fallback", len(candidates))
	}

	sseDesc := ServerDescriptor{Name: "g", Transport: TransportHTTP, Endpoint: "https://example.com/sse/g"}
	candidates, err = m.transportCandidates(sseDesc, &sessionIDTracker{})
	if err != nil {
		t.Fatalf("sse candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("sse candidates = %d, want sse only", len(candidates))
	}

	if _, err := m.transportCandidates(ServerDescriptor{Name: "x", Transport: "grpc"}, nil); err == nil {
		t.Error("unsupported transport accepted")
	}
}
