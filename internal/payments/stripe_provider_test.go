package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

const testWebhookSecret = "whsec_test"

type fakeSessions struct {
	newFn func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getFn func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.newFn != nil {
		return f.newFn(params)
	}
	return &stripe.CheckoutSession{ID: "cs_test"}, nil
}

func (f *fakeSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.getFn != nil {
		return f.getFn(id, params)
	}
	return &stripe.CheckoutSession{ID: id}, nil
}

func newTestProvider(t *testing.T, sessions *fakeSessions, timeout time.Duration) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: testWebhookSecret,
		LookupTimeout: timeout,
		Sessions:      sessions,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeProviderCreateCheckoutSessionUsesValidatedLines(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	sessions := &fakeSessions{
		newFn: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			captured = params
			return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1", ExpiresAt: 1_900_000_000}, nil
		},
	}
	provider := newTestProvider(t, sessions, 0)

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Lines: []CheckoutLineItem{
			{Name: "Remera Sol", SKU: "remera-sol/M", Quantity: 2, UnitAmount: 1000},
		},
		ShippingCost:      1500,
		ShippingLabel:     "Envio estandar",
		SuccessURL:        "https://lunaroja.test/ok",
		FailureURL:        "https://lunaroja.test/fail",
		ExternalReference: "ord_1",
		CustomerEmail:     "ana@example.com",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_1" || session.RedirectURL != "https://checkout.stripe.test/cs_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.ExpiresAt.Equal(time.Unix(1_900_000_000, 0).UTC()) {
		t.Fatalf("unexpected expiry %s", session.ExpiresAt)
	}
	if captured == nil {
		t.Fatalf("expected params to be captured")
	}
	if got := stripe.StringValue(captured.ClientReferenceID); got != "ord_1" {
		t.Fatalf("expected client reference ord_1, got %q", got)
	}
	if got := captured.Metadata[orderIDMetadataKey]; got != "ord_1" {
		t.Fatalf("expected order metadata, got %q", got)
	}
	if len(captured.LineItems) != 1 {
		t.Fatalf("expected one line item, got %d", len(captured.LineItems))
	}
	line := captured.LineItems[0]
	if stripe.Int64Value(line.PriceData.UnitAmount) != 1000 || stripe.Int64Value(line.Quantity) != 2 {
		t.Fatalf("unexpected line %+v", line.PriceData)
	}
	if stripe.StringValue(line.PriceData.Currency) != defaultStripeCurrency {
		t.Fatalf("expected default currency")
	}
	if len(captured.ShippingOptions) != 1 {
		t.Fatalf("expected one shipping option")
	}
	fixed := captured.ShippingOptions[0].ShippingRateData.FixedAmount
	if stripe.Int64Value(fixed.Amount) != 1500 {
		t.Fatalf("expected shipping amount 1500, got %d", stripe.Int64Value(fixed.Amount))
	}
}

func TestStripeProviderCreateCheckoutSessionRequiresReference(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{}, 0)
	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Lines: []CheckoutLineItem{{Name: "x", Quantity: 1, UnitAmount: 1}},
	})
	if err == nil {
		t.Fatalf("expected error for missing reference")
	}
}

func TestStripeProviderParseWebhook(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{}, 0)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session"}}}`)

	event, err := provider.ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if !event.Relevant || event.SessionID != "cs_1" || event.Type != "checkout.session.completed" {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := provider.ParseWebhook(payload, signPayload(payload, "whsec_other", time.Now())); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := provider.ParseWebhook(payload, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing header, got %v", err)
	}
}

func TestStripeProviderParseWebhookIgnoresUnrelatedEvents(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{}, 0)
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

	event, err := provider.ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Relevant {
		t.Fatalf("expected unrelated event to be irrelevant")
	}
}

func TestStripeProviderGetSessionNormalisesStatus(t *testing.T) {
	cases := map[string]struct {
		session *stripe.CheckoutSession
		want    Status
	}{
		"paid": {
			session: &stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid, Status: stripe.CheckoutSessionStatusComplete},
			want:    StatusApproved,
		},
		"expired": {
			session: &stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid, Status: stripe.CheckoutSessionStatusExpired},
			want:    StatusCancelled,
		},
		"intent cancelled": {
			session: &stripe.CheckoutSession{
				PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
				PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled},
			},
			want: StatusCancelled,
		},
		"failed attempt": {
			session: &stripe.CheckoutSession{
				PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
				Status:        stripe.CheckoutSessionStatusComplete,
				PaymentIntent: &stripe.PaymentIntent{
					Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
					LastPaymentError: &stripe.Error{Msg: "card_declined"},
				},
			},
			want: StatusRejected,
		},
		"open": {
			session: &stripe.CheckoutSession{
				PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
				Status:        stripe.CheckoutSessionStatusOpen,
				PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod},
			},
			want: StatusPending,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tc.session.ID = "cs_1"
			tc.session.ClientReferenceID = "ord_1"
			provider := newTestProvider(t, &fakeSessions{
				getFn: func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
					return tc.session, nil
				},
			}, 0)
			details, err := provider.GetSession(context.Background(), "cs_1")
			if err != nil {
				t.Fatalf("get session: %v", err)
			}
			if details.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, details.Status)
			}
			if details.ExternalReference != "ord_1" {
				t.Fatalf("expected reference ord_1, got %q", details.ExternalReference)
			}
		})
	}
}

func TestStripeProviderGetSessionFallsBackToMetadataReference(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{
		getFn: func(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return &stripe.CheckoutSession{ID: id, Metadata: map[string]string{orderIDMetadataKey: "ord_meta"}}, nil
		},
	}, 0)
	details, err := provider.GetSession(context.Background(), "cs_2")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if details.ExternalReference != "ord_meta" {
		t.Fatalf("expected metadata reference, got %q", details.ExternalReference)
	}
}

func TestStripeProviderGetSessionTimeout(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{
		getFn: func(_ string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			<-params.Context.Done()
			return nil, params.Context.Err()
		},
	}, 10*time.Millisecond)

	_, err := provider.GetSession(context.Background(), "cs_slow")
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("expected LookupError, got %v", err)
	}
	if !lookupErr.Timeout {
		t.Fatalf("expected timeout flag")
	}
}

func TestStripeProviderGetSessionNotFound(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{
		getFn: func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such checkout session"}
		},
	}, 0)

	if _, err := provider.GetSession(context.Background(), "cs_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestNewStripeProviderValidatesConfig(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{WebhookSecret: "x"}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if _, err := NewStripeProvider(StripeProviderConfig{APIKey: "sk_test"}); err == nil {
		t.Fatalf("expected error for missing webhook secret")
	}
}
