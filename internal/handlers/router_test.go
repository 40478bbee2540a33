package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNewRouterHealthMounts(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: expected application/json, got %s", path, ct)
		}
	}
}

func TestNewRouterUnconfiguredGroup(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "admin_unavailable" {
		t.Fatalf("expected admin_unavailable error, got %v", body["error"])
	}
}

func TestNewRouterWithRegistrars(t *testing.T) {
	registrar := func(r chi.Router) {
		r.Get("/{orderId}", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Order", chi.URLParam(r, "orderId"))
			w.WriteHeader(http.StatusNoContent)
		})
	}
	router := NewRouter(WithOrderRoutes(registrar))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord-7", nil))

	if rr.Code != http.StatusNoContent || rr.Header().Get("X-Order") != "ord-7" {
		t.Fatalf("expected registrar to handle request, got %d", rr.Code)
	}
}

func TestNewRouterNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does/not/exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found error, got %v", body["error"])
	}
}

func TestNewRouterGroupMiddleware(t *testing.T) {
	marker := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Group", name)
				next.ServeHTTP(w, r)
			})
		}
	}
	router := NewRouter(
		WithWebhookMiddlewares(marker("webhooks")),
		WithAdminMiddlewares(marker("admin")),
	)

	for path, want := range map[string]string{
		"/api/v1/webhooks/payments/stripe": "webhooks",
		"/api/v1/admin/orders":             "admin",
		"/api/v1/orders/ord-1":             "",
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if got := rr.Header().Get("X-Group"); got != want {
			t.Fatalf("%s: expected group middleware %q, got %q", path, want, got)
		}
	}
}

func TestNewRouterClientAddress(t *testing.T) {
	for _, tc := range []struct {
		hops int
		want string
	}{
		{hops: 0, want: "198.51.100.1:4242"},
		{hops: 1, want: "203.0.113.7:0"},
	} {
		var seen string
		router := NewRouter(WithTrustedProxyHops(tc.hops), WithOrderRoutes(func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				seen = req.RemoteAddr
				w.WriteHeader(http.StatusNoContent)
			})
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/", nil)
		req.RemoteAddr = "198.51.100.1:4242"
		req.Header.Set("X-Forwarded-For", "6.6.6.6, 203.0.113.7")
		router.ServeHTTP(httptest.NewRecorder(), req)
		if seen != tc.want {
			t.Fatalf("hops=%d: expected RemoteAddr %q, got %q", tc.hops, tc.want, seen)
		}
	}
}
