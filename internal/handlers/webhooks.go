package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lunaroja/api/internal/platform/httpx"
	"github.com/lunaroja/api/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives payment gateway callbacks.
type WebhookHandlers struct {
	gateway services.GatewayService
}

// NewWebhookHandlers constructs the gateway callback handlers.
func NewWebhookHandlers(gateway services.GatewayService) *WebhookHandlers {
	return &WebhookHandlers{gateway: gateway}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripe)
}

// stripe acknowledges every verified callback with 200, including ones that changed
// nothing. Bad signatures get 400 so Stripe stops retrying; persistence failures get
// 500 so it retries later.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateway == nil {
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway not configured", http.StatusServiceUnavailable))
		return
	}

	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), status))
		return
	}
	signature := r.Header.Get(stripeSignatureHeader)
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "missing "+stripeSignatureHeader+" header", http.StatusBadRequest))
		return
	}

	if err := h.gateway.HandleCallback(ctx, payload, signature); err != nil {
		if errors.Is(err, services.ErrCallbackSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("callback_failed", "callback could not be processed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}
