// Package config reads the shim's settings from the environment once at
// startup.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mbrock/shimtrace/internal/resolve"
	"github.com/mbrock/shimtrace/internal/transport"
)

const (
	// EnvDebug enables diagnostic output on stdout when present, whatever
	// its value.
	EnvDebug = "SHIMTRACE_DEBUG"

	// EnvCollectorAddress points the shim at a TCP collector, which also
	// selects the stream channel.
	EnvCollectorAddress = "SHIMTRACE_COLLECTOR_ADDRESS"

	// EnvCollectorTimeout overrides the per-phase transport timeout, as a
	// Go duration string.
	EnvCollectorTimeout = "SHIMTRACE_COLLECTOR_TIMEOUT"

	EnvPath = "PATH"
)

// Config is everything the shim needs from its environment.
type Config struct {
	Debug      bool
	SearchPath resolve.SearchPath
	Transport  transport.Config

	// Warnings collects settings that were present but ignored. They are
	// logged once a logger exists.
	Warnings []string
}

// FromEnv builds a Config using lookup, normally os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) Config {
	cfg := Config{Transport: transport.DefaultConfig()}

	_, cfg.Debug = lookup(EnvDebug)

	if v, ok := lookup(EnvPath); ok {
		cfg.SearchPath = resolve.SplitSearchPath(v)
	}

	if addr, ok := lookup(EnvCollectorAddress); ok && addr != "" {
		cfg.Transport.Kind = transport.KindStream
		cfg.Transport.Address = addr
	}

	if raw, ok := lookup(EnvCollectorTimeout); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring %s=%q: %v", EnvCollectorTimeout, raw, err))
		case d <= 0:
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring %s=%q: must be positive", EnvCollectorTimeout, raw))
		default:
			cfg.Transport.Timeout = d
		}
	}

	return cfg
}

// Load reads the process environment.
func Load() Config {
	return FromEnv(os.LookupEnv)
}

// NewLogger returns the diagnostic logger: debug-level text records on w
// in debug mode, otherwise a logger that discards everything.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	if !c.Debug {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
