package toolmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleRegistry = `{
  "servers": {
    "sequential": {
      "command": "npx",
      "args": ["-y", "@modelcontextprotocol/server-sequential-thinking"]
    },
    "context7": {
      "transport": "http",
      "url": "https://mcp.context7.com/mcp",
      "headers": {"Authorization": "Bearer token"},
      "startup_required": true,
      "timeout": 12.5
    },
    "desktop": {
      "transport": "stdio",
      "command": "desktop-commander",
      "enabled": false
    },
    "broken": {
      "transport": "stdio"
    }
  },
  "settings": {
    "connection_timeout": 45,
    "unrelated_setting": true
  }
}`

func TestParseRegistryDefaults(t *testing.T) {
	t.Parallel()

	reg, err := ParseRegistry([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}

	seq, ok := reg.Lookup("sequential")
	if !ok {
		t.Fatal("sequential not found")
	}
	if seq.Transport != TransportStdio {
		t.Errorf("transport = %q, want stdio default", seq.Transport)
	}
	if !seq.Enabled {
		t.Error("enabled should default to true")
	}
	if seq.StartupRequired {
		t.Error("startup_required should default to false")
	}
	if len(seq.Args) != 2 {
		t.Errorf("args = %v, want 2 entries", seq.Args)
	}

	c7, ok := reg.Lookup("context7")
	if !ok {
		t.Fatal("context7 not found")
	}
	if c7.Endpoint != "https://mcp.context7.com/mcp" {
		t.Errorf("endpoint = %q, want url alias honored", c7.Endpoint)
	}
	if !c7.StartupRequired {
		t.Error("startup_required not parsed")
	}
	if c7.Timeout != 12500*time.Millisecond {
		t.Errorf("timeout = %v, want 12.5s", c7.Timeout)
	}
	if c7.Headers["Authorization"] != "Bearer token" {
		t.Errorf("headers = %v", c7.Headers)
	}

	if reg.DefaultTimeout != 45*time.Second {
		t.Errorf("DefaultTimeout = %v, want 45s", reg.DefaultTimeout)
	}
}

func TestParseRegistryFailsClosed(t *testing.T) {
	t.Parallel()

	reg, err := ParseRegistry([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}

	// "broken" is enabled but missing its command: kept, disabled, reported.
	broken, ok := reg.Lookup("broken")
	if !ok {
		t.Fatal("broken entry should be kept in the registry")
	}
	if broken.Enabled {
		t.Error("invalid entry must be disabled")
	}
	problems := reg.Problems()
	if len(problems) != 1 || problems[0].Server != "broken" {
		t.Fatalf("problems = %v, want exactly one for broken", problems)
	}

	for _, desc := range reg.Enabled() {
		if desc.Name == "broken" || desc.Name == "desktop" {
			t.Errorf("Enabled() includes %q", desc.Name)
		}
	}
}

func TestParseRegistryMalformed(t *testing.T) {
	t.Parallel()

	if _, err := ParseRegistry([]byte(`{"servers": [`)); err == nil {
		t.Fatal("ParseRegistry accepted malformed JSON")
	}
}

func TestLoadRegistry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mcp.json")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.Servers()) != 4 {
		t.Errorf("Servers() = %d entries, want 4", len(reg.Servers()))
	}
	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("LoadRegistry accepted a missing file")
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry([]ServerDescriptor{
		{Name: "alpha", Transport: TransportStdio, Command: "cat"},
		{Name: "alpha", Transport: TransportStdio, Command: "cat"},
	})
	if err == nil {
		t.Fatal("NewRegistry accepted duplicate names")
	}

	_, err = NewRegistry([]ServerDescriptor{{Transport: TransportStdio, Command: "cat"}})
	if err == nil {
		t.Fatal("NewRegistry accepted an empty name")
	}

	_, err = NewRegistry([]ServerDescriptor{{Name: "bad", Transport: "grpc"}})
	if err == nil {
		t.Fatal("NewRegistry accepted an unsupported transport")
	}
}

func TestRegistryServersSorted(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry([]ServerDescriptor{
		{Name: "zeta", Transport: TransportStdio, Command: "cat", Enabled: true},
		{Name: "alpha", Transport: TransportStdio, Command: "cat", Enabled: true},
		{Name: "mid", Transport: TransportStdio, Command: "cat"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	servers := reg.Servers()
	if servers[0].Name != "alpha" || servers[1].Name != "mid" || servers[2].Name != "zeta" {
		t.Errorf("Servers() order = %v", servers)
	}
	enabled := reg.Enabled()
	if len(enabled) != 2 || enabled[0].Name != "alpha" || enabled[1].Name != "zeta" {
		t.Errorf("Enabled() = %v", enabled)
	}
}
