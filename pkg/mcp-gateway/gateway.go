package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/cors"

	"github.com/autodrp/mcp-swarm-go/pkg/toolmgr"
)

// Gateway fronts every HTTP tool server in a registry under a single
// listener, rewriting /mcp/<server>, /sse/<server>, and /messages paths
// onto the registered endpoints. Routing is fully data-driven: connection
// managers can point at either a direct endpoint or a gateway path without
// code change.
type Gateway struct {
	opts Options

	targets map[string]*url.URL

	mux     *http.ServeMux
	handler http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway over the HTTP servers of a registry.
// Stdio-only registries yield a gateway with no routes, which is an error:
// there is nothing to front.
func NewGateway(registry *toolmgr.Registry, opts *Options) (*Gateway, error) {
	if registry == nil {
		return nil, fmt.Errorf("mcpgateway: registry is required")
	}
	targets := make(map[string]*url.URL)
	for _, desc := range registry.Enabled() {
		if desc.Transport != toolmgr.TransportHTTP {
			continue
		}
		target, err := url.Parse(desc.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("mcpgateway: endpoint for %q: %w", desc.Name, err)
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("mcpgateway: endpoint for %q is not absolute: %q", desc.Name, desc.Endpoint)
		}
		targets[desc.Name] = target
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("mcpgateway: registry has no enabled http servers")
	}

	g := &Gateway{opts: opts.withDefaults(), targets: targets, mux: http.NewServeMux()}
	g.mux.HandleFunc("/mcp/{server}", g.handleMCP)
	g.mux.HandleFunc("/mcp/{server}/{rest...}", g.handleMCP)
	g.mux.HandleFunc("/sse/{server}", g.handleSSE)
	g.mux.HandleFunc("/messages", g.handleMessages)

	g.handler = cors.New(cors.Options{
		AllowedOrigins: g.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(g.mux)
	return g, nil
}

// Handler exposes the CORS-wrapped HTTP handler for embedding in an
// existing server.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// ServeMux exposes the underlying mux so consumers can add custom routes
// such as health checks.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Servers returns the names of the fronted servers.
func (g *Gateway) Servers() []string {
	names := make([]string, 0, len(g.targets))
	for name := range g.targets {
		names = append(names, name)
	}
	return names
}

// ListenAndServe runs an HTTP server until the provided context is
// cancelled or the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		srv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running. Idempotent.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// handleMCP forwards /mcp/<server>[/rest] to the server's registered MCP
// endpoint, appending any extra path segments.
func (g *Gateway) handleMCP(w http.ResponseWriter, r *http.Request) {
	server := r.PathValue("server")
	target, ok := g.targets[server]
	if !ok {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown server %q", server))
		return
	}
	out := *target
	if rest := r.PathValue("rest"); rest != "" {
		out.Path = strings.TrimSuffix(out.Path, "/") + "/" + rest
	}
	out.RawQuery = r.URL.RawQuery
	g.proxyTo(w, r, server, &out)
}

// handleSSE forwards /sse/<server> to the SSE endpoint under the server's
// mount prefix, streaming the response.
func (g *Gateway) handleSSE(w http.ResponseWriter, r *http.Request) {
	server := r.PathValue("server")
	target, ok := g.targets[server]
	if !ok {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown server %q", server))
		return
	}
	out := url.URL{Scheme: target.Scheme, Host: target.Host, Path: ssePath(target.Path), RawQuery: r.URL.RawQuery}
	g.proxyTo(w, r, server, &out)
}

// handleMessages forwards SSE post-backs. The upstream server is selected
// with the ?server= query parameter since the path carries no server name.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	server := r.URL.Query().Get("server")
	if server == "" {
		g.writeError(w, http.StatusBadRequest, "missing server query parameter")
		return
	}
	target, ok := g.targets[server]
	if !ok {
		g.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown server %q", server))
		return
	}
	out := url.URL{Scheme: target.Scheme, Host: target.Host, Path: messagesPath(target.Path), RawQuery: r.URL.RawQuery}
	g.proxyTo(w, r, server, &out)
}

// mountPrefix strips the transport segment from a registered endpoint path,
// leaving the prefix the server is mounted under. An endpoint of
// /team/mcp or /team/sse yields /team; a root-mounted server yields "".
func mountPrefix(endpointPath string) string {
	p := strings.TrimSuffix(endpointPath, "/")
	p = strings.TrimSuffix(p, "/mcp")
	p = strings.TrimSuffix(p, "/sse")
	return p
}

func ssePath(endpointPath string) string {
	p := strings.TrimSuffix(endpointPath, "/")
	if strings.HasSuffix(p, "/sse") {
		return p
	}
	return mountPrefix(endpointPath) + "/sse"
}

func messagesPath(endpointPath string) string {
	return mountPrefix(endpointPath) + "/messages"
}

func (g *Gateway) proxyTo(w http.ResponseWriter, r *http.Request, server string, target *url.URL) {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = target
			pr.Out.Host = target.Host
			pr.SetXForwarded()
		},
		// Flush immediately so SSE streams are not buffered.
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.opts.Logger.Error("proxy failure", "server", server, "target", target.String(), "error", err)
			g.writeError(w, http.StatusBadGateway, "upstream unreachable")
		},
	}
	proxy.ServeHTTP(w, r)
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
