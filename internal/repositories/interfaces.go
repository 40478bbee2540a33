package repositories

import (
	"context"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Inventory() InventoryRepository
	Orders() OrderRepository
	Customers() CustomerRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// InventoryRepository is the authoritative ledger of product prices and per-variant stock.
type InventoryRepository interface {
	// GetProducts returns the requested products keyed by id. Unknown ids are absent from the map.
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// SaveProduct upserts a catalog record. Used for seeding and catalog maintenance.
	SaveProduct(ctx context.Context, product domain.Product) error
	// Adjust applies relative stock changes all-or-nothing. A batch that would drive any
	// variant below zero fails with InventoryErrorInsufficientStock and changes nothing.
	Adjust(ctx context.Context, adjustments []domain.StockAdjustment) error
}

// CustomerRepository reads customer aggregates. Writes happen inside order operations.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, email string) (domain.Customer, error)
}

// OrderRepository persists orders and applies status transitions atomically per order.
type OrderRepository interface {
	Create(ctx context.Context, req OrderCreateRequest) (OrderCreateResult, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Transition compares the stored status with ExpectedStatus and, when equal, writes the
	// new status together with the stock, spend and history side effects. When the stored
	// status differs nothing is written and the result carries the current order with
	// Applied=false.
	Transition(ctx context.Context, req OrderTransitionRequest) (OrderTransitionResult, error)
	ListStatusChanges(ctx context.Context, orderID string) ([]domain.StatusChange, error)
}

// CustomerUpsert describes the find-or-create step performed with every new order.
type CustomerUpsert struct {
	// EmailKey is the normalised email used as the uniqueness key.
	EmailKey string
	// NewID is assigned only when no customer exists for EmailKey.
	NewID string
	Name  string
	Email string
	Phone string
}

// OrderCreateRequest bundles the writes performed when an order is created.
type OrderCreateRequest struct {
	Order    domain.Order
	Customer CustomerUpsert
	// Reserve holds negative stock adjustments applied with the insert (transfer orders).
	Reserve []domain.StockAdjustment
	Change  domain.StatusChange
	Now     time.Time
}

// OrderCreateResult returns the stored order and the customer aggregate after the increment.
type OrderCreateResult struct {
	Order    domain.Order
	Customer domain.Customer
}

// OrderTransitionRequest is a compare-and-swap on the order status plus its side effects.
type OrderTransitionRequest struct {
	OrderID        string
	ExpectedStatus domain.OrderStatus
	NextStatus     domain.OrderStatus
	Stock          []domain.StockAdjustment
	CustomerID     string
	SpendDelta     int64
	Change         domain.StatusChange
	Now            time.Time
}

// OrderTransitionResult reports whether the swap happened and the resulting order.
type OrderTransitionResult struct {
	Order   domain.Order
	Applied bool
}

// OrderListFilter narrows order listings. Results are ordered by creation time, oldest first.
type OrderListFilter struct {
	Status        domain.OrderStatus
	PaymentMethod domain.PaymentMethod
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}
