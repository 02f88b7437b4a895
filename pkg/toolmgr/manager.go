package toolmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/autodrp/mcp-swarm-go/pkg/toolmgr"

// ConnState represents the lifecycle of a managed connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateReady        ConnState = "ready"
	StateDegraded     ConnState = "degraded"
	StateClosed       ConnState = "closed"
)

// ToolDescriptor describes one callable capability exposed by a server.
// Read-only after creation.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Server      string
}

// ConnectionInfo is a point-in-time snapshot of a managed connection.
type ConnectionInfo struct {
	Server     string
	State      ConnState
	LastError  error
	RetryCount int
	Tools      []ToolDescriptor
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// ClientName is advertised to servers during the handshake. Defaults to
	// the server name when empty.
	ClientName string
	// ClientVersion is the semantic version reported to servers.
	ClientVersion string
	// DefaultTimeout bounds connects, catalog fetches, and tool calls for
	// descriptors that omit their own timeout.
	DefaultTimeout time.Duration
	// MaxRetries bounds reconnect attempts after the initial failure.
	MaxRetries uint64
	// InitialBackoff seeds the exponential backoff between retries.
	InitialBackoff time.Duration
	// HealthInterval controls the periodic liveness probe. Negative
	// disables probing entirely.
	HealthInterval time.Duration
	// HealthTimeout bounds each individual probe.
	HealthTimeout time.Duration
	// HTTPClient overrides the client used for HTTP transports.
	HTTPClient *http.Client
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// Tracer records spans for initialization and tool calls. Defaults to
	// the global tracer provider (noop unless configured).
	Tracer trace.Tracer
}

func (o *ManagerOptions) normalized() ManagerOptions {
	opts := ManagerOptions{}
	if o != nil {
		opts = *o
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if opts.HealthInterval == 0 {
		opts.HealthInterval = 30 * time.Second
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return opts
}

// conn is the runtime handle bound to one descriptor. Owned exclusively by
// the Manager; workers only ever address it by server name.
type conn struct {
	desc    ServerDescriptor
	timeout time.Duration

	state      ConnState
	lastErr    error
	retryCount int
	tools      []ToolDescriptor

	client  *mcp.Client
	session *mcp.ClientSession
	tracker *sessionIDTracker

	connecting bool
	connectCh  chan struct{}
}

// Manager owns the lifecycle of every tool-server connection: it opens them
// concurrently, retries with backoff, health-checks them, and multiplexes
// tool calls across heterogeneous transports.
type Manager struct {
	mu sync.RWMutex

	opts     ManagerOptions
	registry *Registry
	conns    map[string]*conn

	initDone chan struct{}
	initErr  error

	// baseCtx is canceled by Shutdown so in-flight dials and probes stop
	// instead of running out their own budgets.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	closed     bool
	healthStop chan struct{}
	healthDone chan struct{}
}

// NewManager constructs a Manager over a validated registry. No connections
// are opened until Initialize is called.
func NewManager(registry *Registry, opts *ManagerOptions) *Manager {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:       opts.normalized(),
		registry:   registry,
		conns:      make(map[string]*conn),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	for _, desc := range registry.Enabled() {
		c := &conn{desc: desc, state: StateDisconnected}
		if desc.Transport == TransportHTTP {
			c.tracker = &sessionIDTracker{}
		}
		m.conns[desc.Name] = c
	}
	return m
}

// Servers returns the names of all managed (enabled) servers.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns a snapshot of the named connection.
func (m *Manager) Info(server string) (ConnectionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[server]
	if !ok {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		Server:     server,
		State:      c.state,
		LastError:  c.lastErr,
		RetryCount: c.retryCount,
		Tools:      append([]ToolDescriptor(nil), c.tools...),
	}, true
}

// Tools returns a copy of the cached catalog for the named server.
func (m *Manager) Tools(server string) []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.conns[server]; ok {
		return append([]ToolDescriptor(nil), c.tools...)
	}
	return nil
}

// Initialize opens every enabled server concurrently. It is idempotent:
// concurrent and repeated invocations share the outcome of the first run.
// When one or more startup-required servers fail irrecoverably the returned
// error is an *InitError naming each of them; servers that did come up stay
// usable either way.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.initDone != nil {
		done := m.initDone
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.initErr
	}
	m.initDone = make(chan struct{})
	m.mu.Unlock()

	ctx, span := m.opts.Tracer.Start(ctx, "toolmgr.Initialize")
	defer span.End()

	descs := m.registry.Enabled()
	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed map[string]error
	)
	for _, desc := range descs {
		wg.Add(1)
		go func(desc ServerDescriptor) {
			defer wg.Done()
			err := m.connect(ctx, desc.Name)
			if err == nil {
				return
			}
			if desc.StartupRequired {
				failMu.Lock()
				if failed == nil {
					failed = make(map[string]error)
				}
				failed[desc.Name] = err
				failMu.Unlock()
				m.opts.Logger.Error("required server failed to initialize", "server", desc.Name, "error", err)
			} else {
				m.opts.Logger.Warn("optional server unavailable", "server", desc.Name, "error", err)
			}
		}(desc)
	}
	wg.Wait()

	var initErr error
	if len(failed) > 0 {
		initErr = &InitError{Failed: failed}
		span.SetStatus(codes.Error, initErr.Error())
	}
	m.mu.Lock()
	m.initErr = initErr
	close(m.initDone)
	m.mu.Unlock()

	m.startHealthLoop()
	return initErr
}

// connect establishes the named connection, deduplicating concurrent
// attempts and applying the bounded retry policy. I/O happens outside the
// manager lock.
func (m *Manager) connect(ctx context.Context, server string) error {
	for {
		m.mu.Lock()
		c, ok := m.conns[server]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("toolmgr: %w: %q", ErrUnknownServer, server)
		}
		if m.closed {
			m.mu.Unlock()
			return ErrManagerClosed
		}
		if c.session != nil {
			m.mu.Unlock()
			return nil
		}
		if c.connecting {
			ch := c.connectCh
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
				continue
			}
		}
		c.connecting = true
		c.connectCh = make(chan struct{})
		c.state = StateConnecting
		c.timeout = m.effectiveTimeout(c.desc)
		desc := c.desc
		timeout := c.timeout
		tracker := c.tracker
		m.mu.Unlock()

		session, client, tools, attempts, err := m.dial(ctx, desc, tracker, timeout)

		m.mu.Lock()
		c.connecting = false
		close(c.connectCh)
		c.retryCount = attempts - 1
		if err != nil {
			c.lastErr = err
			c.session = nil
			c.client = nil
			c.tools = nil
			switch {
			case m.closed:
				c.state = StateClosed
			case desc.StartupRequired:
				c.state = StateDisconnected
			default:
				c.state = StateDegraded
			}
			m.mu.Unlock()
			return &ConnectError{Server: server, Attempts: attempts, Err: err}
		}
		if m.closed {
			c.state = StateClosed
			m.mu.Unlock()
			_ = session.Close()
			return ErrManagerClosed
		}
		c.session = session
		c.client = client
		c.tools = tools
		c.state = StateReady
		c.lastErr = nil
		m.mu.Unlock()

		m.opts.Logger.Info("server connected", "server", server, "tools", len(tools), "retries", attempts-1)
		go m.monitorSession(server, session)
		return nil
	}
}

// dial runs the bounded retry loop around single connection attempts and
// reports how many attempts were made. The loop stops early when either the
// caller's context or the manager (via Shutdown) is canceled.
func (m *Manager) dial(ctx context.Context, desc ServerDescriptor, tracker *sessionIDTracker, timeout time.Duration) (*mcp.ClientSession, *mcp.Client, []ToolDescriptor, int, error) {
	var (
		session  *mcp.ClientSession
		client   *mcp.Client
		tools    []ToolDescriptor
		attempts int
	)
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	stopBase := context.AfterFunc(m.baseCtx, cancelDial)
	defer stopBase()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.opts.InitialBackoff
	policy.MaxElapsedTime = 0

	operation := func() error {
		attempts++
		// The session keeps the context it was connected with for its whole
		// lifetime, so the handshake deadline must be a detached cancel, not
		// a context.WithTimeout that fires when this attempt returns.
		connCtx, cancelConn := context.WithCancel(context.WithoutCancel(dialCtx))
		timer := time.AfterFunc(timeout, cancelConn)
		stopDial := context.AfterFunc(dialCtx, cancelConn)
		s, cli, t, err := m.dialOnce(connCtx, desc, tracker)
		timer.Stop()
		stopDial()
		if err != nil {
			cancelConn()
			m.opts.Logger.Debug("connect attempt failed", "server", desc.Name, "attempt", attempts, "error", err)
			if dialCtx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		// Success: connCtx stays live for the session. Closing the session
		// is the only teardown path from here.
		session, client, tools = s, cli, t
		return nil
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, m.opts.MaxRetries), dialCtx))
	return session, client, tools, attempts, err
}

// dialOnce attempts each candidate transport in order. The catalog fetch is
// part of the handshake: a connection only becomes Ready with a catalog
// fetched on this session.
func (m *Manager) dialOnce(ctx context.Context, desc ServerDescriptor, tracker *sessionIDTracker) (*mcp.ClientSession, *mcp.Client, []ToolDescriptor, error) {
	candidates, err := m.transportCandidates(desc, tracker)
	if err != nil {
		return nil, nil, nil, err
	}
	impl := &mcp.Implementation{Name: m.clientName(desc), Version: m.opts.ClientVersion}
	var errs []error
	for _, transport := range candidates {
		client := mcp.NewClient(impl, nil)
		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if tracker != nil {
			tracker.Set(session.ID())
		}
		tools, err := fetchCatalog(ctx, desc.Name, session)
		if err != nil {
			_ = session.Close()
			errs = append(errs, fmt.Errorf("catalog fetch: %w", err))
			continue
		}
		return session, client, tools, nil
	}
	return nil, nil, nil, errors.Join(errs...)
}

func fetchCatalog(ctx context.Context, server string, session *mcp.ClientSession) ([]ToolDescriptor, error) {
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	tools := make([]ToolDescriptor, 0, len(res.Tools))
	for _, tool := range res.Tools {
		tools = append(tools, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: toolSchema(tool.InputSchema),
			Server:      server,
		})
	}
	return tools, nil
}

// toolSchema coerces the wire-decoded input schema (a plain JSON object
// after unmarshaling) into a typed schema. A schema that does not parse is
// dropped rather than failing the catalog fetch.
func toolSchema(raw any) *jsonschema.Schema {
	switch s := raw.(type) {
	case nil:
		return nil
	case *jsonschema.Schema:
		return s
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil
	}
	return &schema
}

func (m *Manager) clientName(desc ServerDescriptor) string {
	if m.opts.ClientName != "" {
		return m.opts.ClientName
	}
	return desc.Name
}

func (m *Manager) effectiveTimeout(desc ServerDescriptor) time.Duration {
	if desc.Timeout > 0 {
		return desc.Timeout
	}
	if m.registry.DefaultTimeout > 0 {
		return m.registry.DefaultTimeout
	}
	return m.opts.DefaultTimeout
}

// monitorSession observes a live session and treats its termination, clean
// or crashed, as a connection failure: the catalog is invalidated and the
// standard retry policy runs.
func (m *Manager) monitorSession(server string, session *mcp.ClientSession) {
	err := session.Wait()
	m.mu.Lock()
	c, ok := m.conns[server]
	if !ok || c.session != session {
		m.mu.Unlock()
		return
	}
	c.session = nil
	c.client = nil
	c.tools = nil
	redial := false
	if !m.closed && c.state != StateClosed {
		c.state = StateDisconnected
		if err != nil {
			c.lastErr = err
		} else {
			c.lastErr = fmt.Errorf("toolmgr: session for %q ended", server)
		}
		redial = true
	}
	m.mu.Unlock()
	if !redial {
		return
	}
	m.opts.Logger.Warn("server session ended, reconnecting", "server", server, "error", err)
	if cerr := m.connect(context.Background(), server); cerr != nil && !errors.Is(cerr, ErrManagerClosed) {
		m.opts.Logger.Error("reconnect failed", "server", server, "error", cerr)
	}
}

// Call invokes a tool on the named server. The tool is resolved against the
// cached catalog before any transport activity; a connection whose retry
// budget is spent fails fast with ErrServerUnavailable until Reinitialize.
// Degraded connections holding a live session are still attempted once.
func (m *Manager) Call(ctx context.Context, server, tool string, args any) (*mcp.CallToolResult, error) {
	ctx, span := m.opts.Tracer.Start(ctx, "toolmgr.Call", trace.WithAttributes(
		attribute.String("toolmgr.server", server),
		attribute.String("toolmgr.tool", tool),
	))
	defer span.End()

	res, err := m.call(ctx, server, tool, args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (m *Manager) call(ctx context.Context, server, tool string, args any) (*mcp.CallToolResult, error) {
	m.mu.RLock()
	closed := m.closed
	c, ok := m.conns[server]
	m.mu.RUnlock()
	if closed {
		return nil, &CallError{Server: server, Tool: tool, Err: ErrManagerClosed}
	}
	if !ok {
		if _, known := m.registry.Lookup(server); known {
			// Present in the registry but disabled: unavailable, not unknown.
			return nil, &CallError{Server: server, Tool: tool, Err: ErrServerUnavailable}
		}
		return nil, &CallError{Server: server, Tool: tool, Err: ErrUnknownServer}
	}

	session, timeout, err := m.awaitSession(ctx, c)
	if err != nil {
		return nil, &CallError{Server: server, Tool: tool, Err: err}
	}

	m.mu.RLock()
	found := false
	for _, td := range c.tools {
		if td.Name == tool {
			found = true
			break
		}
	}
	m.mu.RUnlock()
	if !found {
		return nil, &CallError{Server: server, Tool: tool, Err: ErrToolNotFound}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		kind := classifyCallError(callCtx, err)
		if errors.Is(kind, ErrTransport) {
			m.markDegraded(server, session, err)
		}
		return nil, &CallError{Server: server, Tool: tool, Err: fmt.Errorf("%w: %v", kind, err)}
	}
	return res, nil
}

// awaitSession returns the live session for a connection, waiting out an
// in-flight connect but never starting a new one: a dead connection fails
// fast until an explicit Reinitialize.
func (m *Manager) awaitSession(ctx context.Context, c *conn) (*mcp.ClientSession, time.Duration, error) {
	for {
		m.mu.RLock()
		session := c.session
		timeout := c.timeout
		connecting := c.connecting
		ch := c.connectCh
		m.mu.RUnlock()
		if session != nil {
			if timeout <= 0 {
				timeout = m.effectiveTimeout(c.desc)
			}
			return session, timeout, nil
		}
		if !connecting {
			return nil, 0, ErrServerUnavailable
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-ch:
		}
	}
}

func (m *Manager) markDegraded(server string, session *mcp.ClientSession, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[server]
	if !ok || c.session != session || c.state != StateReady {
		return
	}
	c.state = StateDegraded
	c.lastErr = cause
	m.opts.Logger.Warn("server degraded after transport failure", "server", server, "error", cause)
}

func classifyCallError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrCallTimeout
	}
	// Caller cancellation is not a server fault; propagate it unclassified.
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if isTransportError(err) {
		return ErrTransport
	}
	return ErrInvalidResponse
}

func isTransportError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

// RefreshCatalog re-fetches the named server's tool catalog without tearing
// down the underlying connection.
func (m *Manager) RefreshCatalog(ctx context.Context, server string) error {
	m.mu.RLock()
	c, ok := m.conns[server]
	var session *mcp.ClientSession
	var timeout time.Duration
	if ok {
		session = c.session
		timeout = c.timeout
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("toolmgr: refresh catalog: %w: %q", ErrUnknownServer, server)
	}
	if session == nil {
		return fmt.Errorf("toolmgr: refresh catalog %q: %w", server, ErrServerUnavailable)
	}
	if timeout <= 0 {
		timeout = m.effectiveTimeout(c.desc)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tools, err := fetchCatalog(fetchCtx, server, session)
	if err != nil {
		return fmt.Errorf("toolmgr: refresh catalog %q: %w", server, err)
	}
	m.mu.Lock()
	if c.session == session {
		c.tools = tools
	}
	m.mu.Unlock()
	return nil
}

// Reinitialize re-dials a server whose retry budget was exhausted, resetting
// its retry count. A no-op when the connection is already live.
func (m *Manager) Reinitialize(ctx context.Context, server string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	c, ok := m.conns[server]
	if !ok {
		m.mu.Unlock()
		if _, known := m.registry.Lookup(server); known {
			return fmt.Errorf("toolmgr: reinitialize %q: %w", server, ErrServerUnavailable)
		}
		return fmt.Errorf("toolmgr: reinitialize: %w: %q", ErrUnknownServer, server)
	}
	if c.session != nil {
		m.mu.Unlock()
		return nil
	}
	if !c.connecting {
		c.retryCount = 0
		c.lastErr = nil
	}
	m.mu.Unlock()
	return m.connect(ctx, server)
}

func (m *Manager) startHealthLoop() {
	if m.opts.HealthInterval <= 0 {
		return
	}
	m.mu.Lock()
	if m.closed || m.healthStop != nil {
		m.mu.Unlock()
		return
	}
	m.healthStop = make(chan struct{})
	m.healthDone = make(chan struct{})
	stop, done := m.healthStop, m.healthDone
	m.mu.Unlock()
	go m.healthLoop(stop, done)
}

func (m *Manager) healthLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.opts.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

// probeAll pings every live connection. Ready connections that miss a probe
// become Degraded; Degraded connections that answer recover to Ready. The
// catalog survives the Ready/Degraded flap since the handshake it was
// fetched on is still the current one.
func (m *Manager) probeAll() {
	type probe struct {
		server  string
		session *mcp.ClientSession
	}
	m.mu.RLock()
	probes := make([]probe, 0, len(m.conns))
	for name, c := range m.conns {
		if c.session != nil && (c.state == StateReady || c.state == StateDegraded) {
			probes = append(probes, probe{server: name, session: c.session})
		}
	}
	m.mu.RUnlock()

	for _, p := range probes {
		ctx, cancel := context.WithTimeout(m.baseCtx, m.opts.HealthTimeout)
		err := p.session.Ping(ctx, nil)
		cancel()

		m.mu.Lock()
		c, ok := m.conns[p.server]
		if !ok || c.session != p.session {
			m.mu.Unlock()
			continue
		}
		switch {
		case err != nil && c.state == StateReady:
			c.state = StateDegraded
			c.lastErr = err
			m.opts.Logger.Warn("health probe failed", "server", p.server, "error", err)
		case err == nil && c.state == StateDegraded:
			c.state = StateReady
			c.lastErr = nil
			m.opts.Logger.Info("server recovered", "server", p.server)
		}
		m.mu.Unlock()
	}
}

// Shutdown cancels the health loop and pending connects, closes every open
// session, and leaves all connections Closed. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.baseCancel()
	stop, done := m.healthStop, m.healthDone
	sessions := make(map[string]*mcp.ClientSession)
	for name, c := range m.conns {
		if c.session != nil {
			sessions[name] = c.session
		}
		c.session = nil
		c.client = nil
		c.tools = nil
		c.state = StateClosed
	}
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	var errs []error
	for name, session := range sessions {
		if err := closeSession(ctx, session); err != nil {
			errs = append(errs, fmt.Errorf("toolmgr: close %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// closeSession closes a session without letting a wedged transport stall
// shutdown past the caller's deadline.
func closeSession(ctx context.Context, session *mcp.ClientSession) error {
	done := make(chan error, 1)
	go func() { done <- session.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
