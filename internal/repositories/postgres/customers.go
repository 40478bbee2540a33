package postgres

import (
	"context"

	"gorm.io/gorm"

	domain "github.com/lunaroja/api/internal/domain"
)

type customerRepository struct {
	db *gorm.DB
}

func (r *customerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	var row customerRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", customerID).Error; err != nil {
		return domain.Customer{}, wrapError("customer.find", err)
	}
	return row.toDomain(), nil
}

func (r *customerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	var row customerRow
	if err := r.db.WithContext(ctx).First(&row, "email_key = ?", domain.NormalizeEmail(email)).Error; err != nil {
		return domain.Customer{}, wrapError("customer.findByEmail", err)
	}
	return row.toDomain(), nil
}
