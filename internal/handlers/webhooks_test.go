package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lunaroja/api/internal/services"
)

func TestStripeWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name      string
		signature string
		err       error
		want      int
	}{
		{"processed", "t=1,v1=abc", nil, http.StatusOK},
		{"missing signature", "", nil, http.StatusBadRequest},
		{"bad signature", "t=1,v1=bad", fmt.Errorf("%w: mismatch", services.ErrCallbackSignature), http.StatusBadRequest},
		{"persistence failure", "t=1,v1=abc", fmt.Errorf("%w: deadline", services.ErrOrderUnavailable), http.StatusInternalServerError},
		{"unexpected", "t=1,v1=abc", errors.New("decode event"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotPayload, gotSignature string
			gateway := &stubGatewayService{handleFn: func(_ context.Context, payload []byte, signature string) error {
				gotPayload, gotSignature = string(payload), signature
				return tc.err
			}}
			router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(gateway).Routes))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/stripe", strings.NewReader(`{"id":"evt_1"}`))
			if tc.signature != "" {
				req.Header.Set("Stripe-Signature", tc.signature)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.signature != "" && (gotPayload != `{"id":"evt_1"}` || gotSignature != tc.signature) {
				t.Fatalf("raw payload and signature must reach the gateway service, got %q %q", gotPayload, gotSignature)
			}
		})
	}
}

func TestStripeWebhookRejectsOversizedBody(t *testing.T) {
	gateway := &stubGatewayService{handleFn: func(context.Context, []byte, string) error {
		t.Fatalf("gateway must not be called")
		return nil
	}}
	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(strings.Repeat("x", maxWebhookBodySize+1)))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	NewWebhookHandlers(gateway).stripe(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
