package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger for bare context")
	}
	logger := zap.NewExample()
	if got := Logger(WithLogger(context.Background(), logger)); got != logger {
		t.Fatalf("expected stored logger")
	}
	if got := Logger(WithLogger(context.Background(), nil)); got != NoopLogger() {
		t.Fatalf("nil logger must fall back to noop")
	}
}

func TestTraceAndActorRoundTrip(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", ProjectID: "luna-roja"})
	ctx = WithActor(ctx, Actor{Kind: "admin", ID: "uid-1"})

	if TraceID(ctx) != "abc" {
		t.Fatalf("expected trace id abc, got %q", TraceID(ctx))
	}
	actor, ok := ActorFrom(ctx)
	if !ok || actor.Kind != "admin" || actor.ID != "uid-1" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
}

func TestActorSlotVisibleToOuterContext(t *testing.T) {
	outer := WithActorSlot(context.Background())
	if _, ok := ActorFrom(outer); ok {
		t.Fatalf("expected empty slot")
	}
	WithActor(outer, Actor{Kind: "staff", ID: "uid-2"})

	actor, ok := ActorFrom(outer)
	if !ok || actor.Kind != "staff" {
		t.Fatalf("expected outer context to see inner actor, got %+v", actor)
	}
}
