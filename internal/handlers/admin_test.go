package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/platform/authz"
	"github.com/lunaroja/api/internal/platform/storage"
	"github.com/lunaroja/api/internal/services"
)

func newTestPolicy(t *testing.T) *authz.Policy {
	t.Helper()
	policy, err := authz.NewPolicy()
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return policy
}

func serveAdmin(h *AdminHandlers, req *http.Request, uid string, roles ...string) *httptest.ResponseRecorder {
	if uid != "" {
		req = req.WithContext(withIdentity(req.Context(), uid, roles...))
	}
	rr := httptest.NewRecorder()
	NewRouter(WithAdminRoutes(h.Routes)).ServeHTTP(rr, req)
	return rr
}

func TestAdminListOrders(t *testing.T) {
	var got services.OrderListFilter
	orders := &stubOrderService{listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		got = filter
		return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder(domain.OrderStatusPaid)}, NextPageToken: "next"}, nil
	}}
	h := NewAdminHandlers(orders, newTestPolicy(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders?status=Paid&paymentMethod=transfer&pageSize=500&createdBefore=2025-03-01T00:00:00Z", nil)
	rr := serveAdmin(h, req, "staff-1", "staff")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Status != domain.OrderStatusPaid || got.PaymentMethod != domain.PaymentMethodTransfer {
		t.Fatalf("unexpected filter %+v", got)
	}
	if got.Pagination.PageSize != maxAdminPageSize {
		t.Fatalf("expected page size clamped to %d, got %d", maxAdminPageSize, got.Pagination.PageSize)
	}
	if got.CreatedBefore == nil || !got.CreatedBefore.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected createdBefore %v", got.CreatedBefore)
	}
	var body orderListResponse
	decodeBody(t, rr, &body)
	if len(body.Items) != 1 || body.NextPageToken != "next" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestAdminListOrdersRejectsBadInput(t *testing.T) {
	orders := &stubOrderService{listFn: func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		t.Fatalf("list must not be called")
		return domain.CursorPage[services.Order]{}, nil
	}}
	h := NewAdminHandlers(orders, newTestPolicy(t))

	for _, query := range []string{"pageSize=abc", "pageToken=@@@", "createdBefore=yesterday"} {
		rr := serveAdmin(h, httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders?"+query, nil), "staff-1", "staff")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestAdminRequiresIdentityAndRole(t *testing.T) {
	h := NewAdminHandlers(&stubOrderService{}, newTestPolicy(t))

	anon := serveAdmin(h, httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil), "")
	if anon.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", anon.Code)
	}
	other := serveAdmin(h, httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil), "uid-9", "viewer")
	if other.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown role, got %d", other.Code)
	}
}

func TestAdminUpdateStatusPolicy(t *testing.T) {
	cases := []struct {
		name   string
		roles  []string
		status string
		want   int
	}{
		{"staff ships", []string{"staff"}, "shipped", http.StatusOK},
		{"staff cannot confirm payment", []string{"staff"}, "paid", http.StatusForbidden},
		{"staff cannot cancel", []string{"staff"}, "cancelled", http.StatusForbidden},
		{"admin confirms payment", []string{"admin"}, "paid", http.StatusOK},
		{"admin inherits shipping", []string{"admin"}, "delivered", http.StatusOK},
		{"unknown status", []string{"admin"}, "lost", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got services.TransitionCommand
			orders := &stubOrderService{transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.TransitionResult, error) {
				got = cmd
				return services.TransitionResult{Order: sampleOrder(cmd.Target), Applied: true}, nil
			}}
			h := NewAdminHandlers(orders, newTestPolicy(t))

			req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/orders/ord-1/status", strings.NewReader(fmt.Sprintf(`{"status":%q,"reason":"checked bank statement"}`, tc.status)))
			rr := serveAdmin(h, req, "uid-1", tc.roles...)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.want != http.StatusOK {
				return
			}
			if got.OrderID != "ord-1" || got.Actor != domain.ActorAdmin || string(got.Target) != tc.status {
				t.Fatalf("unexpected command %+v", got)
			}
			if got.Reason != "admin:uid-1: checked bank statement" {
				t.Fatalf("unexpected reason %q", got.Reason)
			}
		})
	}
}

func TestAdminUpdateStatusConflictReportsCurrentStatus(t *testing.T) {
	orders := &stubOrderService{transitionFn: func(context.Context, services.TransitionCommand) (services.TransitionResult, error) {
		return services.TransitionResult{Order: sampleOrder(domain.OrderStatusCancelled)},
			fmt.Errorf("%w: cannot move order from cancelled to shipped", services.ErrOrderConflict)
	}}
	h := NewAdminHandlers(orders, newTestPolicy(t))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/orders/ord-1/status", strings.NewReader(`{"status":"shipped"}`))
	rr := serveAdmin(h, req, "uid-1", "staff")

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["current_status"] != "cancelled" {
		t.Fatalf("expected current_status detail, got %v", body)
	}
}

func TestAdminOrderHistory(t *testing.T) {
	orders := &stubOrderService{historyFn: func(_ context.Context, id string) ([]services.StatusChange, error) {
		return []services.StatusChange{
			{OrderID: id, To: domain.OrderStatusPending, Actor: domain.ActorCheckout, OccurredAt: testNow.Add(-time.Hour)},
			{OrderID: id, From: domain.OrderStatusPending, To: domain.OrderStatusPaid, Actor: domain.ActorGateway, ExternalPaymentID: "pi_1", OccurredAt: testNow},
		}, nil
	}}
	rr := serveAdmin(NewAdminHandlers(orders, newTestPolicy(t)), httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/ord-1/history", nil), "uid-1", "staff")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Items []statusChangeResponse `json:"items"`
	}
	decodeBody(t, rr, &body)
	if len(body.Items) != 2 || body.Items[1].ExternalPaymentID != "pi_1" || body.Items[1].Actor != "gateway" {
		t.Fatalf("unexpected history %+v", body.Items)
	}
}

type stubArchive struct {
	day     time.Time
	objects []storage.ObjectInfo
}

func (s *stubArchive) Bucket() string { return "lunaroja-reconciliation" }

func (s *stubArchive) ListDay(_ context.Context, day time.Time) ([]storage.ObjectInfo, error) {
	s.day = day
	return s.objects, nil
}

type stubSigner struct{}

func (stubSigner) DownloadURL(_ context.Context, bucket, object string, expiresIn time.Duration) (storage.DownloadURL, error) {
	return storage.DownloadURL{URL: "https://storage.test/" + bucket + "/" + object, ExpiresAt: testNow.Add(expiresIn)}, nil
}

func TestAdminReconciliationListing(t *testing.T) {
	archive := &stubArchive{objects: []storage.ObjectInfo{{Name: "reconciliation/2025-03-02/ord-1-rec.json", Size: 210, Created: testNow}}}
	h := NewAdminHandlers(&stubOrderService{}, newTestPolicy(t), WithReconciliationArchive(archive, stubSigner{}, 5*time.Minute))

	staff := serveAdmin(h, httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconciliation?date=2025-03-02", nil), "uid-1", "staff")
	if staff.Code != http.StatusForbidden {
		t.Fatalf("staff must not read reconciliation records, got %d", staff.Code)
	}

	rr := serveAdmin(h, httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconciliation?date=2025-03-02", nil), "uid-2", "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body reconciliationResponse
	decodeBody(t, rr, &body)
	if body.Date != "2025-03-02" || len(body.Items) != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Items[0].DownloadURL != "https://storage.test/lunaroja-reconciliation/reconciliation/2025-03-02/ord-1-rec.json" {
		t.Fatalf("unexpected link %q", body.Items[0].DownloadURL)
	}
	if body.Items[0].ExpiresAt != testNow.Add(5*time.Minute).Format(time.RFC3339) {
		t.Fatalf("unexpected expiry %q", body.Items[0].ExpiresAt)
	}

	bad := serveAdmin(h, httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconciliation?date=March", nil), "uid-2", "admin")
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", bad.Code)
	}
}
