package mcpgateway

import (
	"log/slog"
	"time"
)

// Options configure a Gateway instance.
type Options struct {
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// AllowedOrigins configures CORS. Defaults to a permissive "*", which is
	// what browser-hosted MCP clients behind the proxy expect.
	AllowedOrigins []string
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// ShutdownTimeout bounds the drain performed when ListenAndServe's
	// context is cancelled.
	ShutdownTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return opts
}
