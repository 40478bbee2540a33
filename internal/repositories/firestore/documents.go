package firestore

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
)

const (
	productsCollection       = "products"
	ordersCollection         = "orders"
	statusChangesCollection  = "statusChanges"
	customersCollection      = "customers"
	customerEmailsCollection = "customerEmails"
)

type productDocument struct {
	Name      string                     `firestore:"name"`
	Price     int64                      `firestore:"price"`
	Variants  map[string]variantDocument `firestore:"variants"`
	UpdatedAt time.Time                  `firestore:"updatedAt"`
}

type variantDocument struct {
	Stock     int  `firestore:"stock"`
	Available bool `firestore:"available"`
}

func newProductDocument(p domain.Product) productDocument {
	variants := make(map[string]variantDocument, len(p.Variants))
	for key, v := range p.Variants {
		variants[key] = variantDocument{Stock: v.Stock, Available: v.Available}
	}
	return productDocument{Name: p.Name, Price: p.Price, Variants: variants, UpdatedAt: p.UpdatedAt.UTC()}
}

func (d productDocument) toDomain(id string) domain.Product {
	variants := make(map[string]domain.Variant, len(d.Variants))
	for key, v := range d.Variants {
		variants[key] = domain.Variant{Stock: v.Stock, Available: v.Available}
	}
	return domain.Product{ID: id, Name: d.Name, Price: d.Price, Variants: variants, UpdatedAt: d.UpdatedAt}
}

type orderDocument struct {
	Customer      orderCustomerDocument `firestore:"customer"`
	Items         []lineItemDocument    `firestore:"items"`
	Totals        totalsDocument        `firestore:"totals"`
	Status        string                `firestore:"status"`
	PaymentMethod string                `firestore:"paymentMethod"`
	Shipping      shippingDocument      `firestore:"shipping"`
	Transfer      *transferDocument     `firestore:"transfer,omitempty"`
	CreatedAt     time.Time             `firestore:"createdAt"`
	UpdatedAt     time.Time             `firestore:"updatedAt"`
}

type orderCustomerDocument struct {
	CustomerID     string `firestore:"customerId"`
	Name           string `firestore:"name"`
	Email          string `firestore:"email"`
	Phone          string `firestore:"phone"`
	DocumentNumber string `firestore:"documentNumber,omitempty"`
}

type lineItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	VariantKey  string `firestore:"variantKey"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	LineTotal   int64  `firestore:"lineTotal"`
}

type totalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type shippingDocument struct {
	Street     string `firestore:"street"`
	Number     string `firestore:"number"`
	Unit       string `firestore:"unit,omitempty"`
	City       string `firestore:"city"`
	Region     string `firestore:"region"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	MethodID   string `firestore:"methodId"`
	Detail     string `firestore:"detail"`
	Cost       int64  `firestore:"cost"`
}

type transferDocument struct {
	BankName      string    `firestore:"bankName"`
	AccountHolder string    `firestore:"accountHolder"`
	AccountNumber string    `firestore:"accountNumber"`
	Alias         string    `firestore:"alias"`
	Reference     string    `firestore:"reference"`
	ExpiresAt     time.Time `firestore:"expiresAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, lineItemDocument(item))
	}
	doc := orderDocument{
		Customer:      orderCustomerDocument(o.Customer),
		Items:         items,
		Totals:        totalsDocument(o.Totals),
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		Shipping: shippingDocument{
			Street:     o.Shipping.Address.Street,
			Number:     o.Shipping.Address.Number,
			Unit:       o.Shipping.Address.Unit,
			City:       o.Shipping.Address.City,
			Region:     o.Shipping.Address.Region,
			PostalCode: o.Shipping.Address.PostalCode,
			Country:    o.Shipping.Address.Country,
			MethodID:   o.Shipping.MethodID,
			Detail:     o.Shipping.Detail,
			Cost:       o.Shipping.Cost,
		},
		CreatedAt: o.CreatedAt.UTC(),
		UpdatedAt: o.UpdatedAt.UTC(),
	}
	if o.Transfer != nil {
		transfer := transferDocument(*o.Transfer)
		transfer.ExpiresAt = transfer.ExpiresAt.UTC()
		doc.Transfer = &transfer
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderLineItem(item))
	}
	order := domain.Order{
		ID:            id,
		Customer:      domain.OrderCustomer(d.Customer),
		Items:         items,
		Totals:        domain.OrderTotals(d.Totals),
		Status:        domain.OrderStatus(d.Status),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Shipping: domain.ShippingInfo{
			Address: domain.Address{
				Street:     d.Shipping.Street,
				Number:     d.Shipping.Number,
				Unit:       d.Shipping.Unit,
				City:       d.Shipping.City,
				Region:     d.Shipping.Region,
				PostalCode: d.Shipping.PostalCode,
				Country:    d.Shipping.Country,
			},
			MethodID: d.Shipping.MethodID,
			Detail:   d.Shipping.Detail,
			Cost:     d.Shipping.Cost,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Transfer != nil {
		transfer := domain.TransferDetails(*d.Transfer)
		order.Transfer = &transfer
	}
	return order
}

type statusChangeDocument struct {
	From              string    `firestore:"from"`
	To                string    `firestore:"to"`
	Actor             string    `firestore:"actor"`
	Reason            string    `firestore:"reason,omitempty"`
	ExternalPaymentID string    `firestore:"externalPaymentId,omitempty"`
	OccurredAt        time.Time `firestore:"occurredAt"`
}

func newStatusChangeDocument(c domain.StatusChange) statusChangeDocument {
	return statusChangeDocument{
		From:              string(c.From),
		To:                string(c.To),
		Actor:             string(c.Actor),
		Reason:            c.Reason,
		ExternalPaymentID: c.ExternalPaymentID,
		OccurredAt:        c.OccurredAt.UTC(),
	}
}

func (d statusChangeDocument) toDomain(id, orderID string) domain.StatusChange {
	return domain.StatusChange{
		ID:                id,
		OrderID:           orderID,
		From:              domain.OrderStatus(d.From),
		To:                domain.OrderStatus(d.To),
		Actor:             domain.Actor(d.Actor),
		Reason:            d.Reason,
		ExternalPaymentID: d.ExternalPaymentID,
		OccurredAt:        d.OccurredAt,
	}
}

type customerDocument struct {
	Name       string    `firestore:"name"`
	Email      string    `firestore:"email"`
	EmailKey   string    `firestore:"emailKey"`
	Phone      string    `firestore:"phone"`
	OrderCount int       `firestore:"orderCount"`
	TotalSpent int64     `firestore:"totalSpent"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d customerDocument) toDomain(id string) domain.Customer {
	return domain.Customer{
		ID:         id,
		Name:       d.Name,
		Email:      d.Email,
		Phone:      d.Phone,
		OrderCount: d.OrderCount,
		TotalSpent: d.TotalSpent,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// customerEmailDocument reserves an email key so find-or-create stays unique inside transactions.
type customerEmailDocument struct {
	CustomerID string `firestore:"customerId"`
}

// emailDocID hashes the normalised email so addresses never appear in document paths.
func emailDocID(emailKey string) string {
	sum := sha256.Sum256([]byte(emailKey))
	return hex.EncodeToString(sum[:])
}
