// Package klog is the pipeline's process-wide structured logger: one
// zerolog.Logger configured once at startup and threaded through every
// component via context or a held reference, never re-initialized per call.
package klog

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a JSON logger writing to w (os.Stdout in production). level
// follows zerolog's names (debug, info, warn, error); an unparseable or
// empty value falls back to info.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl := zerolog.InfoLevel
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

type ctxKey struct{}

// WithLogger attaches logger to ctx for retrieval via FromContext.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached by WithLogger, or a new stdout
// JSON logger if none was attached - callers in deep helper code can
// always log without threading a logger through every signature.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// ForRun returns a child logger scoped to one pipeline run, attaching
// workspace/kb/run fields once so call sites don't repeat them.
func ForRun(logger zerolog.Logger, workspaceID, kbID, runID string) zerolog.Logger {
	return logger.With().
		Str("workspace_id", workspaceID).
		Str("kb_id", kbID).
		Str("run_id", runID).
		Logger()
}
