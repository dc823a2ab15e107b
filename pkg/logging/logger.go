// Package logging configures zerolog for jsoncache processes.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs cache flow and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs lifecycle events and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs degraded reads and failed notifications.
	LevelWarn LogLevel = "warn"

	// LevelError logs startup and shutdown failures only.
	LevelError LogLevel = "error"
)

// Component names used with NewLogger.
const (
	ComponentCache     = "cache"
	ComponentReader    = "reader"
	ComponentFetch     = "fetch"
	ComponentPropagate = "propagate"
	ComponentNotify    = "notify"
	ComponentServer    = "server"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Instance is attached to every line when set, so logs of several
	// instances sharing a broadcast channel can be told apart.
	Instance string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Instance != "" {
		ctx = ctx.Str("instance", cfg.Instance)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to a zerolog.Level.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: cache flow
//   - Cache hit/miss per path
//   - Resources cached as empty after a 404
//   - Discarded out-of-order fetch results
//   - Applied broadcasts
//
// Info: lifecycle
//   - Server startup/shutdown
//   - Preload summary
//   - Propagated content edits
//   - WebSocket clients connecting and leaving
//
// Warn: degraded but serving
//   - Stale or empty fallbacks
//   - Retry attempts
//   - Failed broadcast, worker or registry notifications
//   - Redis unreachable at startup (memory broadcaster used)
//
// Error: needs attention
//   - Invalid configuration
//   - Listener failures
//
// Context Fields:
//   - path: normalized resource path (json/<name>)
//   - version: cache version token
//   - source: read result source (cache, network, stale, empty, not_found)
//   - status_code: origin HTTP status
//   - error_class: client, server, network, decode
//   - duration: fetch duration
//   - origin: instance id of a broadcast
