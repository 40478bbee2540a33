package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lunaroja/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rec := httptest.NewRecorder()
	err := NewError("order_conflict", "order changed\nconcurrently", http.StatusConflict).
		WithDetails(map[string]any{"current_status": "paid"})
	WriteError(ctx, rec, err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "order_conflict" || body["message"] != "order changed concurrently" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "trace-1" || body["current_status"] != "paid" {
		t.Fatalf("missing envelope fields %v", body)
	}
}

func TestNewErrorDefaultsAndClips(t *testing.T) {
	err := NewError(strings.Repeat("c", 200), "boom", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default 500, got %d", err.Status)
	}
	if len(err.Code) != maxCodeLength {
		t.Fatalf("expected code clipped to %d, got %d", maxCodeLength, len(err.Code))
	}
}

func TestDetailsCannotOverrideEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("not_found", "missing", http.StatusNotFound).
		WithDetails(map[string]any{"status": 200, "error": "ok"}))

	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "not_found" || body["status"] != float64(http.StatusNotFound) {
		t.Fatalf("details overrode envelope: %v", body)
	}
}
