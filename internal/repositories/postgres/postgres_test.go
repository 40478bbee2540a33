package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

func TestWrapErrorClassification(t *testing.T) {
	notFound := wrapError("order.find", gorm.ErrRecordNotFound)
	assert.True(t, repositories.IsNotFound(notFound))

	var repoErr repositories.RepositoryError
	require.ErrorAs(t, wrapError("order.create", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)), &repoErr)
	assert.True(t, repoErr.IsConflict())

	inv := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "tee", "M", nil)
	var invErr *repositories.InventoryError
	require.ErrorAs(t, wrapError("order.create", inv), &invErr)
	assert.Equal(t, "order.create", invErr.Op)

	assert.True(t, errors.Is(wrapError("x", context.Canceled), context.Canceled))
	assert.NoError(t, wrapError("x", nil))
}

// TestRegistryAgainstDatabase runs when API_TEST_POSTGRES_DSN points at a scratch database.
func TestRegistryAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("API_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("API_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	registry, err := Open(ctx, dsn, WithAutoMigrate())
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close(ctx) })

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	productID := "tee-" + suffix
	require.NoError(t, registry.Inventory().SaveProduct(ctx, domain.Product{
		ID:       productID,
		Name:     "Remera",
		Price:    1000,
		Variants: map[string]domain.Variant{"M": {Stock: 3, Available: true}},
	}))

	now := time.Now().UTC().Truncate(time.Microsecond)
	order := domain.Order{
		ID:            "ord-" + suffix,
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodGateway,
		Items:         []domain.OrderLineItem{{ProductID: productID, VariantKey: "M", Quantity: 2, UnitPrice: 1000, LineTotal: 2000}},
		Totals:        domain.OrderTotals{Subtotal: 2000, Total: 2000},
		CreatedAt:     now,
	}
	created, err := registry.Orders().Create(ctx, repositories.OrderCreateRequest{
		Order:    order,
		Customer: repositories.CustomerUpsert{EmailKey: suffix + "@example.com", NewID: "cus-" + suffix, Email: suffix + "@example.com"},
		Change:   domain.StatusChange{ID: "chg-a-" + suffix, To: domain.OrderStatusPending, Actor: domain.ActorCheckout, OccurredAt: now},
		Now:      now,
	})
	require.NoError(t, err)

	paid := repositories.OrderTransitionRequest{
		OrderID:        order.ID,
		ExpectedStatus: domain.OrderStatusPending,
		NextStatus:     domain.OrderStatusPaid,
		Stock:          order.StockAdjustments(-1),
		CustomerID:     created.Customer.ID,
		SpendDelta:     2000,
		Change:         domain.StatusChange{ID: "chg-b-" + suffix, From: domain.OrderStatusPending, To: domain.OrderStatusPaid, Actor: domain.ActorGateway, OccurredAt: now},
		Now:            now,
	}
	result, err := registry.Orders().Transition(ctx, paid)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	replay, err := registry.Orders().Transition(ctx, paid)
	require.NoError(t, err)
	assert.False(t, replay.Applied)

	products, err := registry.Inventory().GetProducts(ctx, []string{productID})
	require.NoError(t, err)
	assert.Equal(t, 1, products[productID].Variants["M"].Stock)

	customer, err := registry.Customers().FindByID(ctx, created.Customer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), customer.TotalSpent)
}
