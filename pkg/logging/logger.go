// Package logging provides structured logging configuration using zerolog.
//
// A tap writes its Singer messages to stdout, so every logger built here
// writes to stderr unless told otherwise.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// RunID is attached to every log line when set.
	RunID string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	// The sync and the metrics server log from separate goroutines.
	output = zerolog.SyncWriter(output)
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.RunID != "" {
		ctx = ctx.Str("run_id", cfg.RunID)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Request URLs and query parameters
//   - Child contexts handed from a parent stream to a child
//
// Info: Normal operation events
//   - Sync start, then record and request counts per stream at finish
//   - Resolved taxonomy version
//   - Token acquisition
//
// Warn: Warning conditions that don't prevent the sync
//   - Retry attempts
//   - Rate limit throttling
//   - Cache errors (fallback to direct request)
//
// Error: Conditions that abort the run
//   - Authentication failures
//   - Requests failed after retries
//   - Schema validation failures
//
// Context Fields:
//   - run_id: identifier of the tap invocation
//   - stream: Singer stream name
//   - endpoint: request path on the Lightcast API
//   - status_code: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network)
//   - version: taxonomy version in effect
//   - records: number of records emitted
