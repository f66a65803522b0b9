package log

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	}))
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger from the context. If no logger is found, it returns the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Invocation returns a context whose logger tags every line with the function
// being run and a random invocation id, so one planning pass or one queue
// delivery can be followed across log lines.
func Invocation(ctx context.Context, function string) context.Context {
	return With(ctx, Ctx(ctx).With(
		slog.String("function", function),
		slog.String("invocation", uuid.NewString()),
	))
}

func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}
