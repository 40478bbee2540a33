package postgres

import (
	"time"

	domain "github.com/lunaroja/api/internal/domain"
)

type productRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Price     int64  `gorm:"not null"`
	UpdatedAt time.Time
	Variants  []variantRow `gorm:"foreignKey:ProductID;references:ID"`
}

func (productRow) TableName() string { return "products" }

type variantRow struct {
	ProductID  string `gorm:"primaryKey"`
	VariantKey string `gorm:"primaryKey"`
	Stock      int    `gorm:"not null;check:stock >= 0"`
	Available  bool   `gorm:"not null;default:true"`
}

func (variantRow) TableName() string { return "product_variants" }

type customerRow struct {
	ID         string `gorm:"primaryKey"`
	EmailKey   string `gorm:"uniqueIndex;not null"`
	Name       string
	Email      string
	Phone      string
	OrderCount int   `gorm:"not null;default:0"`
	TotalSpent int64 `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (customerRow) TableName() string { return "customers" }

func (r customerRow) toDomain() domain.Customer {
	return domain.Customer{
		ID:         r.ID,
		Name:       r.Name,
		Email:      r.Email,
		Phone:      r.Phone,
		OrderCount: r.OrderCount,
		TotalSpent: r.TotalSpent,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type orderRow struct {
	ID            string                  `gorm:"primaryKey"`
	Status        string                  `gorm:"index:idx_orders_status_created,priority:1;not null"`
	PaymentMethod string                  `gorm:"not null"`
	Customer      domain.OrderCustomer    `gorm:"serializer:json"`
	Items         []domain.OrderLineItem  `gorm:"serializer:json"`
	Shipping      domain.ShippingInfo     `gorm:"serializer:json"`
	Transfer      *domain.TransferDetails `gorm:"serializer:json"`
	CustomerID    string                  `gorm:"index"`
	Subtotal      int64
	ShippingCost  int64
	Discount      int64
	Total         int64
	CreatedAt     time.Time `gorm:"index:idx_orders_status_created,priority:2"`
	UpdatedAt     time.Time
}

func (orderRow) TableName() string { return "orders" }

func newOrderRow(o domain.Order) orderRow {
	return orderRow{
		ID:            o.ID,
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		Customer:      o.Customer,
		Items:         o.Items,
		Shipping:      o.Shipping,
		Transfer:      o.Transfer,
		CustomerID:    o.Customer.CustomerID,
		Subtotal:      o.Totals.Subtotal,
		ShippingCost:  o.Totals.Shipping,
		Discount:      o.Totals.Discount,
		Total:         o.Totals.Total,
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
}

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:            r.ID,
		Customer:      r.Customer,
		Items:         r.Items,
		Totals:        domain.OrderTotals{Subtotal: r.Subtotal, Shipping: r.ShippingCost, Discount: r.Discount, Total: r.Total},
		Status:        domain.OrderStatus(r.Status),
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		Shipping:      r.Shipping,
		Transfer:      r.Transfer,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type statusChangeRow struct {
	ID                string `gorm:"primaryKey"`
	OrderID           string `gorm:"index;not null"`
	FromStatus        string
	ToStatus          string `gorm:"not null"`
	Actor             string `gorm:"not null"`
	Reason            string
	ExternalPaymentID string
	OccurredAt        time.Time
}

func (statusChangeRow) TableName() string { return "order_status_changes" }

func newStatusChangeRow(orderID string, c domain.StatusChange) statusChangeRow {
	return statusChangeRow{
		ID:                c.ID,
		OrderID:           orderID,
		FromStatus:        string(c.From),
		ToStatus:          string(c.To),
		Actor:             string(c.Actor),
		Reason:            c.Reason,
		ExternalPaymentID: c.ExternalPaymentID,
		OccurredAt:        c.OccurredAt.UTC(),
	}
}

func (r statusChangeRow) toDomain() domain.StatusChange {
	return domain.StatusChange{
		ID:                r.ID,
		OrderID:           r.OrderID,
		From:              domain.OrderStatus(r.FromStatus),
		To:                domain.OrderStatus(r.ToStatus),
		Actor:             domain.Actor(r.Actor),
		Reason:            r.Reason,
		ExternalPaymentID: r.ExternalPaymentID,
		OccurredAt:        r.OccurredAt,
	}
}

func toProduct(row productRow) domain.Product {
	variants := make(map[string]domain.Variant, len(row.Variants))
	for _, v := range row.Variants {
		variants[v.VariantKey] = domain.Variant{Stock: v.Stock, Available: v.Available}
	}
	return domain.Product{ID: row.ID, Name: row.Name, Price: row.Price, Variants: variants, UpdatedAt: row.UpdatedAt}
}
