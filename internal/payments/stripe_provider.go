package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	defaultStripeCurrency      = "ars"
	defaultStripeLookupTimeout = 10 * time.Second
	defaultSessionLifetime     = 30 * time.Minute
	orderIDMetadataKey         = "order_id"
)

// checkout.session.* events that carry a payment outcome.
var stripeSessionEvents = map[string]bool{
	"checkout.session.completed":               true,
	"checkout.session.async_payment_succeeded": true,
	"checkout.session.async_payment_failed":    true,
	"checkout.session.expired":                 true,
}

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string
	LookupTimeout time.Duration
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Sessions      stripeSessionAPI
}

// StripeProvider implements Provider using Stripe Checkout.
type StripeProvider struct {
	sessions      stripeSessionAPI
	webhookSecret string
	currency      string
	lookupTimeout time.Duration
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = defaultStripeCurrency
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultStripeLookupTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions:      sessions,
		webhookSecret: secret,
		currency:      currency,
		lookupTimeout: timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session in payment mode.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	ref := strings.TrimSpace(req.ExternalReference)
	if ref == "" {
		return CheckoutSession{}, errors.New("stripe: external reference is required")
	}
	if len(req.Lines) == 0 {
		return CheckoutSession{}, errors.New("stripe: at least one line is required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.FailureURL),
		ClientReferenceID: stripe.String(ref),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata(orderIDMetadataKey, ref)

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, item := range req.Lines {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		lineItems = append(lineItems, line)
	}
	params.LineItems = lineItems

	label := strings.TrimSpace(req.ShippingLabel)
	if label == "" {
		label = "Shipping"
	}
	params.ShippingOptions = []*stripe.CheckoutSessionShippingOptionParams{{
		ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
			DisplayName: stripe.String(label),
			Type:        stripe.String("fixed_amount"),
			FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
				Amount:   stripe.Int64(req.ShippingCost),
				Currency: stripe.String(p.currency),
			},
		},
	}}
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{orderIDMetadataKey: ref},
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   ref,
	})

	expiresAt := p.clock().Add(defaultSessionLifetime)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the checkout session id.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: provider is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !stripeSessionEvents[result.Type] || event.Data == nil {
		return result, nil
	}

	var session struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
	}
	result.SessionID = strings.TrimSpace(session.ID)
	result.Relevant = result.SessionID != ""
	return result, nil
}

// GetSession re-fetches the checkout session with its payment intent. The call is bounded
// by the configured lookup timeout.
func (p *StripeProvider) GetSession(ctx context.Context, sessionID string) (SessionDetails, error) {
	if p == nil {
		return SessionDetails{}, errors.New("stripe: provider is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionDetails{}, errors.New("stripe: session id is required")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = lookupCtx
	params.AddExpand("payment_intent")

	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return SessionDetails{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded)
		return SessionDetails{}, &LookupError{SessionID: sessionID, Timeout: timedOut, Err: err}
	}

	details := SessionDetails{
		ID:                session.ID,
		ExternalReference: strings.TrimSpace(session.ClientReferenceID),
		Status:            normaliseStripeSession(session),
		AmountTotal:       session.AmountTotal,
		Currency:          strings.ToLower(string(session.Currency)),
	}
	if details.ExternalReference == "" {
		details.ExternalReference = strings.TrimSpace(session.Metadata[orderIDMetadataKey])
	}
	if session.PaymentIntent != nil {
		details.PaymentIntentID = session.PaymentIntent.ID
	}
	return details, nil
}

func normaliseStripeSession(session *stripe.CheckoutSession) Status {
	switch session.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return StatusApproved
	}
	if session.Status == stripe.CheckoutSessionStatusExpired {
		return StatusCancelled
	}
	if intent := session.PaymentIntent; intent != nil {
		switch intent.Status {
		case stripe.PaymentIntentStatusCanceled:
			return StatusCancelled
		case stripe.PaymentIntentStatusRequiresPaymentMethod:
			// A fresh intent also sits here; only a recorded failure counts as rejection.
			if intent.LastPaymentError != nil {
				return StatusRejected
			}
		}
	}
	return StatusPending
}
