// Package logging provides the process-wide zerolog logger for workshop-hub.
//
// CLI commands log human-oriented diagnostics to stderr through a console
// writer; the HTTP server can switch to JSON lines. Library packages take a
// zerolog.Logger in their options and fall back to Get().
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string

	// Format is "console" (default) or "json".
	Format string

	// Writer receives log output. Defaults to os.Stderr so stdout stays
	// reserved for command results.
	Writer io.Writer

	// Component is attached to every entry when non-empty.
	Component string
}

var root atomic.Pointer[zerolog.Logger]

// Init builds the root logger from opt and installs it. Unlike a sync.Once
// setup it may be called again, because the CLI only knows --verbose after
// flag parsing.
func Init(opt Options) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if opt.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(ParseLevel(opt.Level)).With().Timestamp()
	if opt.Component != "" {
		ctx = ctx.Str("component", opt.Component)
	}
	log := ctx.Logger()
	root.Store(&log)
	return &log
}

// Get returns the root logger, initializing it with defaults on first use.
func Get() *zerolog.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	return Init(Options{})
}

// For returns a child of the root logger tagged with a component name.
func For(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown values map to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
