// Package memory provides process-local repositories used for development, tests and
// single-instance deployments. All state is guarded by one store mutex so multi-record
// writes (stock, order status, customer spend, history) are applied together.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

// Store holds the in-memory state shared by the repository views.
type Store struct {
	mu sync.Mutex

	products   map[string]domain.Product
	orders     map[string]domain.Order
	changes    map[string][]domain.StatusChange
	customers  map[string]domain.Customer
	emailIndex map[string]string

	now func() time.Time
}

// Option customises the store.
type Option func(*Store)

// WithClock overrides the clock used for catalog timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProducts seeds the catalog.
func WithProducts(products ...domain.Product) Option {
	return func(s *Store) {
		for _, product := range products {
			s.products[product.ID] = cloneProduct(product)
		}
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		products:   make(map[string]domain.Product),
		orders:     make(map[string]domain.Order),
		changes:    make(map[string][]domain.StatusChange),
		customers:  make(map[string]domain.Customer),
		emailIndex: make(map[string]string),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var _ repositories.Registry = (*Store)(nil)

// Inventory returns the inventory ledger view.
func (s *Store) Inventory() repositories.InventoryRepository { return &inventoryRepository{store: s} }

// Orders returns the order store view.
func (s *Store) Orders() repositories.OrderRepository { return &orderRepository{store: s} }

// Customers returns the customer store view.
func (s *Store) Customers() repositories.CustomerRepository { return &customerRepository{store: s} }

// Close is a no-op for the memory store.
func (s *Store) Close(context.Context) error { return nil }

// Ping always succeeds; it lets the store participate in readiness checks.
func (s *Store) Ping(context.Context) error { return nil }

// applyAdjustments validates every adjustment before mutating any variant. Callers hold s.mu.
func (s *Store) applyAdjustments(op string, adjustments []domain.StockAdjustment, now time.Time) error {
	merged := domain.MergeAdjustments(adjustments)
	for _, adj := range merged {
		product, ok := s.products[adj.ProductID]
		if !ok {
			return inventoryError(op, repositories.InventoryErrorProductNotFound, adj)
		}
		variant, ok := product.Variants[adj.VariantKey]
		if !ok {
			return inventoryError(op, repositories.InventoryErrorVariantNotFound, adj)
		}
		if variant.Stock+adj.Delta < 0 {
			return inventoryError(op, repositories.InventoryErrorInsufficientStock, adj)
		}
	}
	for _, adj := range merged {
		product := s.products[adj.ProductID]
		variant := product.Variants[adj.VariantKey]
		variant.Stock += adj.Delta
		product.Variants[adj.VariantKey] = variant
		product.UpdatedAt = now
		s.products[adj.ProductID] = product
	}
	return nil
}

func inventoryError(op string, code repositories.InventoryErrorCode, adj domain.StockAdjustment) error {
	err := repositories.NewInventoryError(code, adj.ProductID, adj.VariantKey, nil)
	err.Op = op
	return err
}

func cloneProduct(product domain.Product) domain.Product {
	out := product
	out.Variants = make(map[string]domain.Variant, len(product.Variants))
	for key, variant := range product.Variants {
		out.Variants[key] = variant
	}
	return out
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = append([]domain.OrderLineItem(nil), order.Items...)
	if order.Transfer != nil {
		transfer := *order.Transfer
		out.Transfer = &transfer
	}
	return out
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
