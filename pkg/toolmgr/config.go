package toolmgr

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Transport identifies how a tool server is reached.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// ServerDescriptor declares a single tool server. Descriptors are immutable
// once loaded and are identified by Name.
type ServerDescriptor struct {
	Name      string
	Transport Transport

	// Command, Args, and Env apply to stdio servers.
	Command string
	Args    []string
	Env     map[string]string

	// Endpoint applies to HTTP servers. It may point at the server directly
	// or at a gateway-rewritten path such as https://host/mcp/<server>; the
	// manager treats it as opaque data either way.
	Endpoint string
	// Headers are added to every HTTP request for this server.
	Headers map[string]string

	Enabled         bool
	StartupRequired bool

	// Timeout bounds connection establishment and each tool call. Zero
	// falls back to the registry default, then the manager default.
	Timeout time.Duration
}

// EntryProblem records a registry entry that could not be validated. The
// entry is kept in the registry but forced to disabled (fail closed).
type EntryProblem struct {
	Server string
	Err    error
}

func (p EntryProblem) Error() string {
	return fmt.Sprintf("toolmgr: registry entry %q: %v", p.Server, p.Err)
}

// Registry holds the validated set of server descriptors. Two descriptors
// never share a name; JSON object keys guarantee this for file-loaded
// registries and NewRegistry enforces it for programmatic ones.
type Registry struct {
	byName map[string]ServerDescriptor

	// DefaultTimeout comes from the registry file's settings block.
	DefaultTimeout time.Duration

	problems []EntryProblem
}

// NewRegistry builds a registry from descriptors, rejecting duplicates.
func NewRegistry(descriptors []ServerDescriptor) (*Registry, error) {
	reg := &Registry{byName: make(map[string]ServerDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		if desc.Name == "" {
			return nil, fmt.Errorf("toolmgr: descriptor with empty name")
		}
		if _, exists := reg.byName[desc.Name]; exists {
			return nil, fmt.Errorf("toolmgr: duplicate server name %q", desc.Name)
		}
		if err := validateDescriptor(desc); err != nil {
			return nil, fmt.Errorf("toolmgr: descriptor %q: %w", desc.Name, err)
		}
		reg.byName[desc.Name] = desc
	}
	return reg, nil
}

// Servers returns all descriptors ordered by name.
func (r *Registry) Servers() []ServerDescriptor {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ServerDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name])
	}
	return out
}

// Enabled returns the enabled descriptors ordered by name.
func (r *Registry) Enabled() []ServerDescriptor {
	var out []ServerDescriptor
	for _, desc := range r.Servers() {
		if desc.Enabled {
			out = append(out, desc)
		}
	}
	return out
}

// Lookup resolves a descriptor by name.
func (r *Registry) Lookup(name string) (ServerDescriptor, bool) {
	desc, ok := r.byName[name]
	return desc, ok
}

// Problems reports entries that failed validation during load. Each such
// entry is present in the registry but disabled.
func (r *Registry) Problems() []EntryProblem {
	return append([]EntryProblem(nil), r.problems...)
}

// The on-disk registry shape. Unknown fields are tolerated by design so the
// same file can carry configuration for other consumers.
type registryFile struct {
	Servers  map[string]registryEntry `json:"servers"`
	Settings registrySettings         `json:"settings"`
}

type registryEntry struct {
	Transport       string            `json:"transport"`
	Command         string            `json:"command"`
	Args            []string          `json:"args"`
	Env             map[string]string `json:"env"`
	Endpoint        string            `json:"endpoint"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers"`
	Enabled         *bool             `json:"enabled"`
	StartupRequired bool              `json:"startup_required"`
	TimeoutSeconds  float64           `json:"timeout"`
}

type registrySettings struct {
	ConnectionTimeoutSeconds float64 `json:"connection_timeout"`
}

// LoadRegistry reads and parses a registry file (the mcp.json shape).
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolmgr: read registry %s: %w", path, err)
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("toolmgr: parse registry %s: %w", path, err)
	}
	return reg, nil
}

// ParseRegistry parses registry JSON. Entries that are enabled but missing a
// required field are kept, disabled, and reported via Problems rather than
// silently dropped.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("toolmgr: malformed registry: %w", err)
	}
	reg := &Registry{byName: make(map[string]ServerDescriptor, len(file.Servers))}
	if file.Settings.ConnectionTimeoutSeconds > 0 {
		reg.DefaultTimeout = time.Duration(file.Settings.ConnectionTimeoutSeconds * float64(time.Second))
	}
	for name, entry := range file.Servers {
		desc := descriptorFromEntry(name, entry)
		if err := validateDescriptor(desc); err != nil {
			if desc.Enabled {
				reg.problems = append(reg.problems, EntryProblem{Server: name, Err: err})
			}
			desc.Enabled = false
		}
		reg.byName[name] = desc
	}
	return reg, nil
}

func descriptorFromEntry(name string, entry registryEntry) ServerDescriptor {
	transport := Transport(entry.Transport)
	if transport == "" {
		transport = TransportStdio
	}
	endpoint := entry.Endpoint
	if endpoint == "" {
		endpoint = entry.URL
	}
	enabled := true
	if entry.Enabled != nil {
		enabled = *entry.Enabled
	}
	var timeout time.Duration
	if entry.TimeoutSeconds > 0 {
		timeout = time.Duration(entry.TimeoutSeconds * float64(time.Second))
	}
	return ServerDescriptor{
		Name:            name,
		Transport:       transport,
		Command:         entry.Command,
		Args:            append([]string(nil), entry.Args...),
		Env:             entry.Env,
		Endpoint:        endpoint,
		Headers:         entry.Headers,
		Enabled:         enabled,
		StartupRequired: entry.StartupRequired,
		Timeout:         timeout,
	}
}

func validateDescriptor(desc ServerDescriptor) error {
	switch desc.Transport {
	case TransportStdio:
		if desc.Command == "" {
			return fmt.Errorf("stdio server missing command")
		}
	case TransportHTTP:
		if desc.Endpoint == "" {
			return fmt.Errorf("http server missing endpoint")
		}
	default:
		return fmt.Errorf("unsupported transport %q", desc.Transport)
	}
	return nil
}
