package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status enumerates the normalised payment states reported by the gateway.
type Status string

const (
	// StatusApproved indicates the payment was captured.
	StatusApproved Status = "approved"
	// StatusPending indicates the payment is still in flight.
	StatusPending Status = "pending"
	// StatusRejected indicates the payment attempt failed and the session will not be paid.
	StatusRejected Status = "rejected"
	// StatusCancelled indicates the session expired or the intent was cancelled.
	StatusCancelled Status = "cancelled"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrSessionNotFound is returned when the gateway does not know the session id.
	ErrSessionNotFound = errors.New("payments: session not found")
)

// CheckoutLineItem is one priced line sent to the hosted checkout.
type CheckoutLineItem struct {
	Name       string
	SKU        string
	Quantity   int64
	UnitAmount int64
}

// CheckoutSessionRequest captures the payload required to create a hosted checkout session.
type CheckoutSessionRequest struct {
	Lines             []CheckoutLineItem
	ShippingCost      int64
	ShippingLabel     string
	SuccessURL        string
	FailureURL        string
	ExternalReference string
	CustomerEmail     string
	IdempotencyKey    string
}

// CheckoutSession is the hosted checkout returned to the storefront.
type CheckoutSession struct {
	ID          string
	RedirectURL string
	ExpiresAt   time.Time
}

// WebhookEvent is a verified gateway notification reduced to what reconciliation needs.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
	// Relevant is false for signed events that carry no checkout session outcome.
	Relevant bool
}

// SessionDetails is the live state of a checkout session fetched from the gateway.
type SessionDetails struct {
	ID                string
	ExternalReference string
	PaymentIntentID   string
	Status            Status
	AmountTotal       int64
	Currency          string
}

// LookupError reports a failed session fetch. Timeout is set when the deadline elapsed
// before the gateway answered.
type LookupError struct {
	SessionID string
	Timeout   bool
	Err       error
}

func (e *LookupError) Error() string {
	if e == nil {
		return ""
	}
	if e.Timeout {
		return fmt.Sprintf("payments: session %s lookup timed out: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("payments: session %s lookup failed: %v", e.SessionID, e.Err)
}

func (e *LookupError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Provider defines the contract for hosted checkout adapters.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	// ParseWebhook verifies the signature and decodes the event. Unverifiable payloads
	// fail with ErrInvalidSignature.
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
	GetSession(ctx context.Context, sessionID string) (SessionDetails, error)
}
