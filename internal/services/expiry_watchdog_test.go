package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

func TestCheckExpiryRespectsWindow(t *testing.T) {
	f := newLifecycleFixture(t, teeProduct(3))
	ctx := context.Background()

	order := f.createOrder(t, domain.PaymentMethodTransfer, CartLine{ProductID: "remera-sol", VariantKey: "M", Quantity: 2})
	require.Equal(t, 1, f.stock(t, "remera-sol", "M"))

	f.clock.Advance(14*time.Minute + 59*time.Second)
	res, err := f.watchdog.CheckExpiry(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
	assert.Equal(t, 1, f.stock(t, "remera-sol", "M"))

	f.clock.Advance(2 * time.Second)
	res, err = f.watchdog.CheckExpiry(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, res.Expired)
	assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status)
	assert.Equal(t, 3, f.stock(t, "remera-sol", "M"))

	changes, err := f.orders.ListStatusChanges(ctx, order.ID)
	require.NoError(t, err)
	last := changes[len(changes)-1]
	assert.Equal(t, domain.ActorWatchdog, last.Actor)
	assert.Equal(t, "transfer_window_elapsed", last.Reason)

	// Checking again must not restore stock twice.
	res, err = f.watchdog.CheckExpiry(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.Equal(t, 3, f.stock(t, "remera-sol", "M"))
}

func TestCheckExpiryAtExactDeadline(t *testing.T) {
	f := newLifecycleFixture(t, teeProduct(3))
	order := f.createOrder(t, domain.PaymentMethodTransfer, CartLine{ProductID: "remera-sol", VariantKey: "M", Quantity: 1})

	f.clock.Advance(15 * time.Minute)
	res, err := f.watchdog.CheckExpiry(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, res.Expired)
}

func TestCheckExpiryIgnoresGatewayOrders(t *testing.T) {
	f := newLifecycleFixture(t, teeProduct(3))
	order := f.createOrder(t, domain.PaymentMethodGateway, CartLine{ProductID: "remera-sol", VariantKey: "M", Quantity: 1})

	f.clock.Advance(24 * time.Hour)
	res, err := f.watchdog.CheckExpiry(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
}

func TestCheckExpirySkipsReportedTransfer(t *testing.T) {
	f := newLifecycleFixture(t, teeProduct(3))
	ctx := context.Background()
	order := f.createOrder(t, domain.PaymentMethodTransfer, CartLine{ProductID: "remera-sol", VariantKey: "M", Quantity: 2})

	f.clock.Advance(10 * time.Minute)
	_, err := f.orders.ReportTransferPayment(ctx, order.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.watchdog.CheckExpiry(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.Equal(t, domain.OrderStatusAwaitingConfirmation, res.Order.Status)
	assert.Equal(t, 1, f.stock(t, "remera-sol", "M"))
}

func TestCheckExpiryReportsRaceAsNotExpired(t *testing.T) {
	clock := newTestClock(fixtureStart.Add(time.Hour))
	pending := domain.Order{ID: "ord_1", Status: domain.OrderStatusPending, PaymentMethod: domain.PaymentMethodTransfer, CreatedAt: fixtureStart}
	awaiting := pending
	awaiting.Status = domain.OrderStatusAwaitingConfirmation

	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return pending, nil },
		transitionFn: func(context.Context, repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
			return repositories.OrderTransitionResult{Order: awaiting}, nil
		},
	}
	orders, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: clock.Now})
	require.NoError(t, err)
	watchdog, err := NewExpiryWatchdog(ExpiryWatchdogDeps{Orders: repo, Lifecycle: orders, Clock: clock.Now})
	require.NoError(t, err)

	res, err := watchdog.CheckExpiry(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.Equal(t, domain.OrderStatusAwaitingConfirmation, res.Order.Status)
}

func TestCheckExpiryUnknownOrder(t *testing.T) {
	f := newLifecycleFixture(t)
	_, err := f.watchdog.CheckExpiry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.watchdog.CheckExpiry(context.Background(), " ")
	assert.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestSweepExpiresOnlyDueTransferOrders(t *testing.T) {
	f := newLifecycleFixture(t, teeProduct(10))
	ctx := context.Background()
	line := CartLine{ProductID: "remera-sol", VariantKey: "M", Quantity: 1}

	var due []Order
	for i := 0; i < 3; i++ {
		due = append(due, f.createOrder(t, domain.PaymentMethodTransfer, line))
		f.clock.Advance(time.Second)
	}
	gateway := f.createOrder(t, domain.PaymentMethodGateway, line)
	reported := f.createOrder(t, domain.PaymentMethodTransfer, line)
	_, err := f.orders.ReportTransferPayment(ctx, reported.ID)
	require.NoError(t, err)

	f.clock.Advance(15 * time.Minute)
	fresh := f.createOrder(t, domain.PaymentMethodTransfer, line)
	require.Equal(t, 5, f.stock(t, "remera-sol", "M"))

	result, err := f.watchdog.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 3, Expired: 3}, result)
	assert.Equal(t, 8, f.stock(t, "remera-sol", "M"))

	for _, order := range due {
		got, err := f.orders.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	}
	for id, want := range map[string]domain.OrderStatus{
		gateway.ID:  domain.OrderStatusPending,
		reported.ID: domain.OrderStatusAwaitingConfirmation,
		fresh.ID:    domain.OrderStatusPending,
	} {
		got, err := f.orders.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	again, err := f.watchdog.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, again)
}

func TestSweepCountsFailures(t *testing.T) {
	clock := newTestClock(fixtureStart.Add(time.Hour))
	order := domain.Order{ID: "ord_1", Status: domain.OrderStatusPending, PaymentMethod: domain.PaymentMethodTransfer, CreatedAt: fixtureStart}
	repo := &stubOrderRepo{
		listFn: func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			return domain.CursorPage[domain.Order]{Items: []domain.Order{order}}, nil
		},
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, &repositories.StoreError{Op: "order.find", Err: errors.New("timeout"), Unavailable: true}
		},
	}
	orders, err := NewOrderService(OrderServiceDeps{Orders: repo, Clock: clock.Now})
	require.NoError(t, err)
	watchdog, err := NewExpiryWatchdog(ExpiryWatchdogDeps{Orders: repo, Lifecycle: orders, Clock: clock.Now})
	require.NoError(t, err)

	result, err := watchdog.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Failed: 1}, result)
}

func TestNewExpiryWatchdogRequiresDeps(t *testing.T) {
	_, err := NewExpiryWatchdog(ExpiryWatchdogDeps{})
	assert.Error(t, err)
	_, err = NewExpiryWatchdog(ExpiryWatchdogDeps{Orders: &stubOrderRepo{}})
	assert.Error(t, err)
}
