package memory

import (
	"context"
	"errors"
	"strings"

	domain "github.com/lunaroja/api/internal/domain"
)

type inventoryRepository struct {
	store *Store
}

func (r *inventoryRepository) GetProducts(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.store.products[id]; ok {
			result[id] = cloneProduct(product)
		}
	}
	return result, nil
}

func (r *inventoryRepository) SaveProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("memory inventory: product id is required")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	copied := cloneProduct(product)
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = r.store.now().UTC()
	}
	r.store.products[product.ID] = copied
	return nil
}

func (r *inventoryRepository) Adjust(_ context.Context, adjustments []domain.StockAdjustment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.applyAdjustments("inventory.adjust", adjustments, r.store.now().UTC())
}
