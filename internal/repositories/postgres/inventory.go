package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

type inventoryRepository struct {
	db *gorm.DB
}

func (r *inventoryRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	var rows []productRow
	if err := r.db.WithContext(ctx).Preload("Variants").Where("id IN ?", productIDs).Find(&rows).Error; err != nil {
		return nil, wrapError("inventory.getProducts", err)
	}
	for _, row := range rows {
		result[row.ID] = toProduct(row)
	}
	return result, nil
}

func (r *inventoryRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("inventory save: product id is required")
	}
	updatedAt := product.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := productRow{ID: product.ID, Name: product.Name, Price: product.Price, UpdatedAt: updatedAt}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "price", "updated_at"}),
		}).Omit("Variants").Create(&row).Error; err != nil {
			return err
		}
		for key, variant := range product.Variants {
			v := variantRow{ProductID: product.ID, VariantKey: key, Stock: variant.Stock, Available: variant.Available}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "product_id"}, {Name: "variant_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"stock", "available"}),
			}).Create(&v).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return wrapError("inventory.saveProduct", err)
}

func (r *inventoryRepository) Adjust(ctx context.Context, adjustments []domain.StockAdjustment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyAdjustments(tx, adjustments)
	})
	return wrapError("inventory.adjust", err)
}

// applyAdjustments runs one guarded relative update per variant. Any refused row aborts the
// surrounding transaction so earlier updates roll back.
func applyAdjustments(tx *gorm.DB, adjustments []domain.StockAdjustment) error {
	for _, adj := range domain.MergeAdjustments(adjustments) {
		res := tx.Model(&variantRow{}).
			Where("product_id = ? AND variant_key = ? AND stock + ? >= 0", adj.ProductID, adj.VariantKey, adj.Delta).
			UpdateColumn("stock", gorm.Expr("stock + ?", adj.Delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			continue
		}
		return explainRefusal(tx, adj)
	}
	return nil
}

func explainRefusal(tx *gorm.DB, adj domain.StockAdjustment) error {
	var products int64
	if err := tx.Model(&productRow{}).Where("id = ?", adj.ProductID).Count(&products).Error; err != nil {
		return err
	}
	if products == 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, adj.ProductID, adj.VariantKey, nil)
	}
	var variants int64
	if err := tx.Model(&variantRow{}).Where("product_id = ? AND variant_key = ?", adj.ProductID, adj.VariantKey).Count(&variants).Error; err != nil {
		return err
	}
	if variants == 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, adj.ProductID, adj.VariantKey, nil)
	}
	return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, adj.ProductID, adj.VariantKey, nil)
}
