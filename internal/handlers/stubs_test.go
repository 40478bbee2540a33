package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/platform/auth"
	"github.com/lunaroja/api/internal/services"
)

var testNow = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

type stubCheckoutService struct {
	checkoutFn func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	return s.checkoutFn(ctx, cmd)
}

type stubOrderService struct {
	getFn        func(ctx context.Context, orderID string) (services.Order, error)
	listFn       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	historyFn    func(ctx context.Context, orderID string) ([]services.StatusChange, error)
	transitionFn func(ctx context.Context, cmd services.TransitionCommand) (services.TransitionResult, error)
	reportFn     func(ctx context.Context, orderID string) (services.TransitionResult, error)
}

func (s *stubOrderService) CreateOrder(context.Context, services.CreateOrderCommand) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) ListStatusChanges(ctx context.Context, orderID string) ([]services.StatusChange, error) {
	return s.historyFn(ctx, orderID)
}

func (s *stubOrderService) Transition(ctx context.Context, cmd services.TransitionCommand) (services.TransitionResult, error) {
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) ReportTransferPayment(ctx context.Context, orderID string) (services.TransitionResult, error) {
	return s.reportFn(ctx, orderID)
}

type stubExpiryWatchdog struct {
	checkFn func(ctx context.Context, orderID string) (services.ExpiryResult, error)
	sweepFn func(ctx context.Context) (services.SweepResult, error)
}

func (s *stubExpiryWatchdog) CheckExpiry(ctx context.Context, orderID string) (services.ExpiryResult, error) {
	return s.checkFn(ctx, orderID)
}

func (s *stubExpiryWatchdog) Sweep(ctx context.Context) (services.SweepResult, error) {
	return s.sweepFn(ctx)
}

type stubGatewayService struct {
	handleFn func(ctx context.Context, payload []byte, signature string) error
}

func (s *stubGatewayService) HandleCallback(ctx context.Context, payload []byte, signature string) error {
	return s.handleFn(ctx, payload, signature)
}

var (
	_ services.CheckoutService = (*stubCheckoutService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.ExpiryWatchdog  = (*stubExpiryWatchdog)(nil)
	_ services.GatewayService  = (*stubGatewayService)(nil)
)

func sampleOrder(status domain.OrderStatus) services.Order {
	return services.Order{
		ID:            "01JNQ4ZV8R2T3Y5W7X9A0B1C2D",
		Customer:      domain.OrderCustomer{Name: "Ana Paz", Email: "ana@example.com"},
		Items:         []domain.OrderLineItem{{ProductID: "remera-sol", ProductName: "Remera Sol", VariantKey: "M", Quantity: 2, UnitPrice: 1000, LineTotal: 2000}},
		Totals:        domain.OrderTotals{Subtotal: 2000, Shipping: 1500, Total: 3500},
		Status:        status,
		PaymentMethod: domain.PaymentMethodTransfer,
		Shipping:      domain.ShippingInfo{MethodID: "caba", Cost: 1500, Address: domain.Address{Street: "Defensa", Number: "1200", City: "CABA"}},
		CreatedAt:     testNow.Add(-time.Hour),
		UpdatedAt:     testNow,
	}
}

func withIdentity(ctx context.Context, uid string, roles ...string) context.Context {
	return auth.WithIdentity(ctx, &auth.Identity{UID: uid, Roles: roles})
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	decodeBody(t, rr, &body)
	code, _ := body["error"].(string)
	return code
}
