package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/lunaroja/api/internal/platform/firestore"
	"github.com/lunaroja/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider  *pfirestore.Provider
	inventory *InventoryRepository
	orders    *OrderRepository
	customers *CustomerRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on top of the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, inventory: inventory, orders: orders, customers: customers}, nil
}

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }

// Ping checks Firestore reachability for readiness probes.
func (r *Registry) Ping(ctx context.Context) error { return r.provider.Ping(ctx) }

// Close releases the shared client.
func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
