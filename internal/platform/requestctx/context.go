package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceKey
	actorKey
	actorSlotKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context extracted from the incoming request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Actor describes who is driving the current request, used for audit fields in logs.
type Actor struct {
	Kind string
	ID   string
}

// WithLogger returns a child context carrying logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request scoped logger, or a no-op logger when none was set.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared no-op logger.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

// Trace returns the trace metadata when present.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier, or "" when the request was not traced.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type actorSlot struct {
	mu    sync.Mutex
	actor *Actor
}

// WithActorSlot installs a slot that WithActor calls made further down the
// handler chain also fill, so outer middleware can read the caller afterwards.
func WithActorSlot(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorSlotKey, &actorSlot{})
}

// WithActor records the authenticated caller.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if slot, ok := ctx.Value(actorSlotKey).(*actorSlot); ok {
		slot.mu.Lock()
		slot.actor = &actor
		slot.mu.Unlock()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the caller stored by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	if actor, ok := ctx.Value(actorKey).(Actor); ok {
		return actor, true
	}
	if slot, ok := ctx.Value(actorSlotKey).(*actorSlot); ok {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		if slot.actor != nil {
			return *slot.actor, true
		}
	}
	return Actor{}, false
}
