package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage represents a paginated result set with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created and awaits a payment action.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAwaitingConfirmation indicates the customer reported a bank transfer that staff have not verified yet.
	OrderStatusAwaitingConfirmation OrderStatus = "awaiting_confirmation"
	// OrderStatusPaid indicates payment was confirmed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the parcel reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled or expired.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions may leave the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAwaitingConfirmation, OrderStatusPaid,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentMethod identifies the payment rail chosen at checkout.
type PaymentMethod string

const (
	// PaymentMethodGateway pays through the hosted checkout redirect.
	PaymentMethodGateway PaymentMethod = "gateway"
	// PaymentMethodTransfer pays through a manual bank transfer.
	PaymentMethodTransfer PaymentMethod = "transfer"
)

// Valid reports whether the payment method is supported.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodGateway || m == PaymentMethodTransfer
}

// ReservesAtCreation reports whether stock is decremented when the order is created.
func (m PaymentMethod) ReservesAtCreation() bool {
	return m == PaymentMethodTransfer
}

// Actor identifies who requested a lifecycle transition.
type Actor string

const (
	ActorCheckout Actor = "checkout"
	ActorCustomer Actor = "customer"
	ActorGateway  Actor = "gateway"
	ActorWatchdog Actor = "watchdog"
	ActorAdmin    Actor = "admin"
)

// Order captures the immutable order snapshot plus its mutable status.
type Order struct {
	ID            string
	Customer      OrderCustomer
	Items         []OrderLineItem
	Totals        OrderTotals
	Status        OrderStatus
	PaymentMethod PaymentMethod
	Shipping      ShippingInfo
	Transfer      *TransferDetails
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderCustomer is the customer snapshot taken at order creation.
type OrderCustomer struct {
	CustomerID     string
	Name           string
	Email          string
	Phone          string
	DocumentNumber string
}

// OrderLineItem stores a validated cart line with its frozen unit price.
type OrderLineItem struct {
	ProductID   string
	ProductName string
	VariantKey  string
	Quantity    int
	UnitPrice   int64
	LineTotal   int64
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Discount int64
	Total    int64
}

// ShippingInfo is the typed shipping selection captured at checkout.
type ShippingInfo struct {
	Address  Address
	MethodID string
	Detail   string
	Cost     int64
}

// Address stores a postal destination.
type Address struct {
	Street     string
	Number     string
	Unit       string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// TransferDetails tells the customer where to send a bank transfer and by when.
type TransferDetails struct {
	BankName      string
	AccountHolder string
	AccountNumber string
	Alias         string
	Reference     string
	ExpiresAt     time.Time
}

// StockAdjustments returns the relative stock changes for the order's lines, each
// multiplied by sign (-1 to decrement, +1 to restore).
func (o Order) StockAdjustments(sign int) []StockAdjustment {
	adjustments := make([]StockAdjustment, 0, len(o.Items))
	for _, item := range o.Items {
		adjustments = append(adjustments, StockAdjustment{
			ProductID:  item.ProductID,
			VariantKey: item.VariantKey,
			Delta:      sign * item.Quantity,
		})
	}
	return MergeAdjustments(adjustments)
}

// Product is the authoritative catalog record used for price and stock checks.
type Product struct {
	ID        string
	Name      string
	Price     int64
	Variants  map[string]Variant
	UpdatedAt time.Time
}

// Variant is a purchasable configuration of a product (e.g. a size).
type Variant struct {
	Stock     int
	Available bool
}

// StockAdjustment is a relative stock change for one product variant.
type StockAdjustment struct {
	ProductID  string
	VariantKey string
	Delta      int
}

// MergeAdjustments folds adjustments that target the same variant and drops zero deltas.
// The first-seen order of variants is preserved.
func MergeAdjustments(adjustments []StockAdjustment) []StockAdjustment {
	type key struct{ product, variant string }
	index := make(map[key]int, len(adjustments))
	merged := make([]StockAdjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		k := key{adj.ProductID, adj.VariantKey}
		if i, ok := index[k]; ok {
			merged[i].Delta += adj.Delta
			continue
		}
		index[k] = len(merged)
		merged = append(merged, adj)
	}
	out := merged[:0]
	for _, adj := range merged {
		if adj.Delta != 0 {
			out = append(out, adj)
		}
	}
	return out
}

// Customer is the aggregate record keyed by unique email.
type Customer struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	OrderCount int
	TotalSpent int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StatusChange is the append-only record of one applied transition.
type StatusChange struct {
	ID                string
	OrderID           string
	From              OrderStatus
	To                OrderStatus
	Actor             Actor
	Reason            string
	ExternalPaymentID string
	OccurredAt        time.Time
}

// LifecycleEvent is published after a transition is durably recorded.
type LifecycleEvent struct {
	ID         string
	OrderID    string
	OldStatus  OrderStatus
	NewStatus  OrderStatus
	Actor      Actor
	Order      Order
	OccurredAt time.Time
}

// CheckoutSession is the hosted checkout created for a gateway order.
type CheckoutSession struct {
	ID          string
	RedirectURL string
	ExpiresAt   time.Time
}
