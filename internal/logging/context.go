package logging

import (
	"context"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	loggerKey
)

// WithCorrelationIDCtx returns a new context with the correlation ID set.
func WithCorrelationIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromCtx extracts the correlation ID from the context.
func CorrelationIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// ContextLogger returns the logger attached to ctx, falling back to base and
// then to the global logger. A correlation ID in ctx is applied to the result.
func ContextLogger(ctx context.Context, base *Logger) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Global()
	}
	if id := CorrelationIDFromCtx(ctx); id != "" && id != l.correlationID {
		l = l.WithCorrelationID(id)
	}
	return l
}
