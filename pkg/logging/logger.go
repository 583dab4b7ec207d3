// Package logging provides structured logging configuration using zerolog.
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
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
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
//   - Lookup batch composition (ids, batch index)
//   - Page boundaries in the dispatch loop
//   - Retry decisions and backoff durations
//
// Info: Normal operation events
//   - Run start/end with counts
//   - Runner requests created
//   - Duplicate creations (idempotent no-op)
//   - Admission budget per warehouse
//
// Warn: Warning conditions that don't prevent operation
//   - Skipped export rows (bad date, empty serialized id)
//   - Retry attempts against downstream services
//   - Location refresh failure at end of run
//
// Error: Error conditions requiring attention
//   - Per-record creation failures
//   - Location batch failure (run aborts)
//   - Export trigger/download failure
//   - Configuration errors at startup
//
// Context Fields:
//   - warehouse: target warehouse code (NY, LA)
//   - serialized_id: full composite item identifier
//   - endpoint: downstream service path
//   - status_code: HTTP status code
//   - error_class: error classification (client, server, rate_limit, network)
//   - accepted: runner requests accepted so far this run
//   - remaining: admission budget remaining
