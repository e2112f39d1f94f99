// Package log configures the process-wide zerolog logger. The orchestrator
// prints its statusline and plan summaries on stdout; everything logged
// through this package goes to stderr (or wherever Config.Output points),
// so the two streams stay separable when the CLI is scripted.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names the verbosity thresholds the CLI exposes (-v maps to debug).
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config selects verbosity and output encoding.
type Config struct {
	Level Level
	// JSONOutput switches from the human console format to one JSON
	// object per line, for shipping the stream somewhere structured.
	JSONOutput bool
	// Output defaults to stderr.
	Output io.Writer
}

// root is usable before Init runs, so failures during flag handling and
// target loading still produce readable output.
var root = newLogger(Config{Level: InfoLevel})

// Init replaces the process logger according to cfg.
func Init(cfg Config) {
	root = newLogger(cfg)
}

func newLogger(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(cfg.Level.zerolog()).With().Timestamp().Logger()
}

// WithComponent scopes a logger to one subsystem (status, executor, ...).
func WithComponent(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

// WithHost scopes a logger to one remote host, so a run against many hosts
// can be filtered down to a single host's probe and command history.
func WithHost(host string) zerolog.Logger {
	return root.With().Str("host", host).Logger()
}

// WithVerb scopes a logger to the verb being executed.
func WithVerb(verb string) zerolog.Logger {
	return root.With().Str("verb", verb).Logger()
}
