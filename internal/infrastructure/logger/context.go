package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	// LoggerKey holds the request-scoped *zap.Logger
	LoggerKey contextKey = "logger"
	// RequestIDKey holds the request ID set by GinMiddleware
	RequestIDKey contextKey = "request_id"
	// ActorIDKey holds the authenticated actor set by the JWT middleware
	ActorIDKey contextKey = "actor_id"
	// UsageRecordIDKey holds the usage record an operation works on
	UsageRecordIDKey contextKey = "usage_record_id"
)

// correlationKeys are copied into every ContextLogger entry, in this order
var correlationKeys = []contextKey{RequestIDKey, ActorIDKey, UsageRecordIDKey}

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext returns the logger stored by WithContext, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID tags ctx with the request ID and stores a logger carrying it
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return tag(ctx, logger, RequestIDKey, requestID)
}

// WithActorID tags ctx with the authenticated actor and stores a logger carrying it
func WithActorID(ctx context.Context, logger *zap.Logger, actorID string) (context.Context, *zap.Logger) {
	return tag(ctx, logger, ActorIDKey, actorID)
}

// WithUsageRecordID tags ctx with the usage record being processed.
// The stored logger is left alone; ContextLogger adds the field when it logs.
func WithUsageRecordID(ctx context.Context, recordID string) context.Context {
	return context.WithValue(ctx, UsageRecordIDKey, recordID)
}

// GetRequestID returns the request ID, or "" outside an HTTP request
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetActorID returns the authenticated actor, or "" when unauthenticated
func GetActorID(ctx context.Context) string {
	return stringValue(ctx, ActorIDKey)
}

func tag(ctx context.Context, logger *zap.Logger, key contextKey, value string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, key, value)
	tagged := logger.With(zap.String(string(key), value))
	return WithContext(ctx, tagged), tagged
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// ContextLogger logs through a service's logger, adding the trace, request,
// actor and usage record of ctx to every entry.
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// WithLogger binds logger to ctx for a single operation.
// Usage: logger.WithLogger(ctx, s.logger).Info("Usage record committed", ...)
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: logger}
}

func (cl *ContextLogger) enriched() *zap.Logger {
	l := cl.logger
	if l == nil {
		l = zap.NewNop()
	}

	if sc := trace.SpanContextFromContext(cl.ctx); sc.IsValid() {
		l = l.With(
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, key := range correlationKeys {
		if v := stringValue(cl.ctx, key); v != "" {
			l = l.With(zap.String(string(key), v))
		}
	}
	return l
}

// Info logs at info level with the context fields
func (cl *ContextLogger) Info(msg string, fields ...zap.Field) {
	cl.enriched().Info(msg, fields...)
}

// Warn logs at warn level with the context fields
func (cl *ContextLogger) Warn(msg string, fields ...zap.Field) {
	cl.enriched().Warn(msg, fields...)
}

// Error logs at error level with the context fields
func (cl *ContextLogger) Error(msg string, fields ...zap.Field) {
	cl.enriched().Error(msg, fields...)
}
