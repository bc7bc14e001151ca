package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey  contextKey = "finitefield.org/storefront/internal/platform/requestctx/logger"
	traceContextKey   contextKey = "finitefield.org/storefront/internal/platform/requestctx/trace"
	subjectContextKey contextKey = "finitefield.org/storefront/internal/platform/requestctx/subject"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

// WithSubjectSlot reserves a slot that handlers further down the chain can fill with
// SetSubject, so outer middleware (the request logger) can read it after the fact.
func WithSubjectSlot(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, subjectContextKey, &subjectSlot{})
}

// SetSubject records the signed-in shopper's backend user id for log correlation.
// It is a no-op when no slot was reserved.
func SetSubject(ctx context.Context, subject string) {
	if ctx == nil {
		return
	}
	if slot, ok := ctx.Value(subjectContextKey).(*subjectSlot); ok {
		slot.mu.Lock()
		slot.value = subject
		slot.mu.Unlock()
	}
}

// Subject returns the user id recorded with SetSubject, if any.
func Subject(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	slot, ok := ctx.Value(subjectContextKey).(*subjectSlot)
	if !ok {
		return ""
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.value
}

type subjectSlot struct {
	mu    sync.Mutex
	value string
}
