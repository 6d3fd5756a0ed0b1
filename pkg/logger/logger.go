// Package logger configures the process-wide slog handler and carries
// request-scoped attributes through a context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey struct{}

type fields struct {
	requestID string
	identity  string
}

func Setup(level string, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	f := fieldsFrom(ctx)
	f.requestID = requestID
	return context.WithValue(ctx, contextKey{}, f)
}

// WithIdentity records the authenticated caller for log lines emitted
// further down the request.
func WithIdentity(ctx context.Context, identity string) context.Context {
	f := fieldsFrom(ctx)
	f.identity = identity
	return context.WithValue(ctx, contextKey{}, f)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	return fieldsFrom(ctx).requestID
}

func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	f := fieldsFrom(ctx)
	if f.requestID != "" {
		logger = logger.With("request_id", f.requestID)
	}
	if f.identity != "" {
		logger = logger.With("identity", f.identity)
	}
	return logger
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func fieldsFrom(ctx context.Context) fields {
	f, _ := ctx.Value(contextKey{}).(fields)
	return f
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
