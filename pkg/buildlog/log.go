// Package buildlog carries the zerolog logger of a run through context.Context.
package buildlog

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type logPtr struct{}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logPtr{}, logger)
}

// Log returns the logger attached to ctx or the global zerolog logger if there is none.
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logPtr{})
	if logger == nil {
		return &log.Logger
	}

	return logger.(*zerolog.Logger)
}

// WithFields returns a context whose logger carries the given string fields.
func WithFields(ctx context.Context, fields map[string]string) context.Context {
	builder := Log(ctx).With()
	for key, value := range fields {
		builder = builder.Str(key, value)
	}

	logger := builder.Logger()
	return WithLogger(ctx, &logger)
}
