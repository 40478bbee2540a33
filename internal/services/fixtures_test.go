package services

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
	"github.com/lunaroja/api/internal/repositories/memory"
)

var fixtureStart = time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []LifecycleEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event LifecycleEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.err
}

func (d *recordingDispatcher) Events() []LifecycleEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]LifecycleEvent(nil), d.events...)
}

type lifecycleFixture struct {
	clock    *testClock
	store    *memory.Store
	events   *recordingDispatcher
	orders   OrderService
	cart     CartValidator
	watchdog ExpiryWatchdog
}

func teeProduct(stock int) domain.Product {
	return domain.Product{
		ID:    "remera-sol",
		Name:  "Remera Sol",
		Price: 1000,
		Variants: map[string]domain.Variant{
			"M":  {Stock: stock, Available: true},
			"L":  {Stock: stock, Available: true},
			"XL": {Stock: 0, Available: false},
		},
	}
}

func newLifecycleFixture(t *testing.T, products ...domain.Product) *lifecycleFixture {
	t.Helper()
	clock := newTestClock(fixtureStart)
	store := memory.New(memory.WithClock(clock.Now), memory.WithProducts(products...))
	events := &recordingDispatcher{}

	orders, err := NewOrderService(OrderServiceDeps{
		Orders:         store.Orders(),
		Notifications:  events,
		TransferWindow: 15 * time.Minute,
		Transfer:       TransferAccount{BankName: "Banco Sur", Alias: "luna.roja.mp"},
		Clock:          clock.Now,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	cart, err := NewCartValidator(CartValidatorDeps{Inventory: store.Inventory()})
	if err != nil {
		t.Fatalf("NewCartValidator: %v", err)
	}
	watchdog, err := NewExpiryWatchdog(ExpiryWatchdogDeps{
		Orders:         store.Orders(),
		Lifecycle:      orders,
		TransferWindow: 15 * time.Minute,
		BatchSize:      2,
		Clock:          clock.Now,
	})
	if err != nil {
		t.Fatalf("NewExpiryWatchdog: %v", err)
	}
	return &lifecycleFixture{clock: clock, store: store, events: events, orders: orders, cart: cart, watchdog: watchdog}
}

func (f *lifecycleFixture) createOrder(t *testing.T, method domain.PaymentMethod, lines ...CartLine) Order {
	t.Helper()
	cart, err := f.cart.Validate(context.Background(), lines)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	order, err := f.orders.CreateOrder(context.Background(), CreateOrderCommand{
		Customer:      domain.OrderCustomer{Name: "Ana Paz", Email: "ana@example.com"},
		Cart:          cart,
		Shipping:      domain.ShippingInfo{MethodID: PickupMethodID, Detail: "Retiro en local"},
		PaymentMethod: method,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func (f *lifecycleFixture) stock(t *testing.T, productID, variant string) int {
	t.Helper()
	products, err := f.store.Inventory().GetProducts(context.Background(), []string{productID})
	if err != nil {
		t.Fatalf("GetProducts: %v", err)
	}
	return products[productID].Variants[variant].Stock
}

func (f *lifecycleFixture) customer(t *testing.T, email string) domain.Customer {
	t.Helper()
	customer, err := f.store.Customers().FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	return customer
}

// stubOrderRepo lets unit tests script repository responses.
type stubOrderRepo struct {
	createFn     func(context.Context, repositories.OrderCreateRequest) (repositories.OrderCreateResult, error)
	findFn       func(context.Context, string) (domain.Order, error)
	listFn       func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	transitionFn func(context.Context, repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error)
	changesFn    func(context.Context, string) ([]domain.StatusChange, error)
}

func (s *stubOrderRepo) Create(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return repositories.OrderCreateResult{Order: req.Order}, nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, repositories.NotFoundError("order.find", "order %s not found", orderID)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, req)
	}
	return repositories.OrderTransitionResult{}, nil
}

func (s *stubOrderRepo) ListStatusChanges(ctx context.Context, orderID string) ([]domain.StatusChange, error) {
	if s.changesFn != nil {
		return s.changesFn(ctx, orderID)
	}
	return nil, nil
}
