// Package log builds the slog loggers the engine components receive.
//
// Loggers are injected, never global: cmd constructs one from the --json
// and --debug flags and app.Setup hands each component a child via
// logger.With("component", ...). Output goes to stderr so stdout stays
// reserved for command results.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so components depend on the standard type
// and keep access to With for contextual fields.
type Logger = *slog.Logger

// Config selects the handler for a new logger.
type Config struct {
	// Level is the minimum level emitted. Zero value is slog.LevelInfo.
	Level slog.Level

	// JSON switches from the text handler to the JSON handler, for
	// deployments that ship logs to a collector.
	JSON bool

	// AddSource annotates entries with the emitting file and line.
	AddSource bool
}

// New returns a logger writing to stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w. Tests pass a bytes.Buffer
// to assert on emitted entries.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewNop returns a logger that discards everything. Test-only; production
// paths always configure a real destination.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
