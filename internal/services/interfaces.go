package services

import (
	"context"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

type (
	Order           = domain.Order
	Customer        = domain.Customer
	StatusChange    = domain.StatusChange
	LifecycleEvent  = domain.LifecycleEvent
	TransferDetails = domain.TransferDetails
	OrderListFilter = repositories.OrderListFilter
)

// CartLine is one line of a cart as submitted by the storefront. ClaimedPrice is
// accepted for logging only and never used for pricing.
type CartLine struct {
	ProductID    string
	VariantKey   string
	Quantity     int
	ClaimedPrice int64
}

// ValidatedCart holds server-priced lines and their subtotal.
type ValidatedCart struct {
	Lines    []domain.OrderLineItem
	Subtotal int64
}

// CartValidator re-derives cart lines and prices from the inventory ledger.
type CartValidator interface {
	Validate(ctx context.Context, lines []CartLine) (ValidatedCart, error)
}

// CreateOrderCommand carries a validated cart into order creation.
type CreateOrderCommand struct {
	Customer      domain.OrderCustomer
	Cart          ValidatedCart
	Shipping      domain.ShippingInfo
	PaymentMethod domain.PaymentMethod
}

// TransitionCommand requests a lifecycle move for one order.
type TransitionCommand struct {
	OrderID           string
	Target            domain.OrderStatus
	Actor             domain.Actor
	Reason            string
	ExternalPaymentID string
}

// TransitionResult reports the order after the request. Applied is false for no-op requests.
type TransitionResult struct {
	Order   Order
	Applied bool
}

// OrderService owns the order lifecycle state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListStatusChanges(ctx context.Context, orderID string) ([]StatusChange, error)
	Transition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error)
	ReportTransferPayment(ctx context.Context, orderID string) (TransitionResult, error)
}

// ExpiryResult is the outcome of an expiry check.
type ExpiryResult struct {
	Expired bool
	Order   Order
}

// SweepResult counts the orders visited by one expiry sweep.
type SweepResult struct {
	Checked int
	Expired int
	Failed  int
}

// ExpiryWatchdog cancels unpaid transfer orders once their payment window closes.
type ExpiryWatchdog interface {
	CheckExpiry(ctx context.Context, orderID string) (ExpiryResult, error)
	Sweep(ctx context.Context) (SweepResult, error)
}

// GatewayService reconciles hosted checkout callbacks with order state.
type GatewayService interface {
	HandleCallback(ctx context.Context, payload []byte, signature string) error
}

// CustomerInput is the customer block of a checkout submission.
type CustomerInput struct {
	Name           string
	Email          string
	Phone          string
	DocumentNumber string
}

// ShippingInput is the shipping block of a checkout submission.
type ShippingInput struct {
	Address  domain.Address
	MethodID string
	Detail   string
}

// CheckoutCommand is a full checkout submission.
type CheckoutCommand struct {
	Lines         []CartLine
	Customer      CustomerInput
	Shipping      ShippingInput
	PaymentMethod domain.PaymentMethod
}

// CheckoutResult returns the created order plus the payment instructions for its method.
type CheckoutResult struct {
	Order       Order
	RedirectURL string
	SessionID   string
	Transfer    *TransferDetails
}

// CheckoutService orchestrates validation, order creation and payment initiation.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// ShippingQuote is the server-side price of a shipping method.
type ShippingQuote struct {
	MethodID        string
	Label           string
	Cost            int64
	RequiresAddress bool
}

// ShippingRates resolves shipping costs by method id.
type ShippingRates interface {
	Quote(methodID string) (ShippingQuote, error)
	Methods() []ShippingQuote
}

// NotificationDispatcher delivers lifecycle events to downstream consumers.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, event LifecycleEvent) error
}

// NotificationDispatcherFunc adapts a function into a NotificationDispatcher.
type NotificationDispatcherFunc func(ctx context.Context, event LifecycleEvent) error

// Dispatch implements NotificationDispatcher.
func (f NotificationDispatcherFunc) Dispatch(ctx context.Context, event LifecycleEvent) error {
	return f(ctx, event)
}

// ConversionTracker reports paid orders to the marketing beacon.
type ConversionTracker interface {
	TrackPaid(ctx context.Context, order Order)
}

// Discrepancy is an operator-facing record of a payment that could not be reconciled.
type Discrepancy struct {
	OrderID         string
	SessionID       string
	Kind            string
	AttemptedStatus domain.OrderStatus
	CurrentStatus   domain.OrderStatus
	Detail          string
	OccurredAt      time.Time
}

// ReconciliationRecorder persists discrepancies for manual follow-up.
type ReconciliationRecorder interface {
	Record(ctx context.Context, discrepancy Discrepancy) error
}

// SystemService reports process health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SystemHealthReport extends the dependency report with build metadata.
type SystemHealthReport struct {
	domain.HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
}
