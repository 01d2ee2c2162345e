// Package logger builds the service's zerolog loggers and carries
// request-scoped loggers through a context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type contextKey struct{}

// Options controls the root logger.
type Options struct {
	// Level is a zerolog level name; unknown or empty means info.
	Level string
	// Format is "json" or "console".
	Format string
}

// New creates the root logger writing to stdout.
func New(opts Options) zerolog.Logger {
	var out io.Writer = os.Stdout
	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(out).Level(parseLevel(opts.Level))
}

// NewWithWriter creates a JSON logger on w, mostly for tests.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("service", "community-sacco").Logger()
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// WithContext stores log in ctx.
func WithContext(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the logger stored in ctx, or fallback when there is none.
func FromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if log, ok := ctx.Value(contextKey{}).(zerolog.Logger); ok {
		return log
	}
	return fallback
}

// WithFields returns a child logger carrying fields.
func WithFields(log zerolog.Logger, fields map[string]interface{}) zerolog.Logger {
	return log.With().Fields(fields).Logger()
}
