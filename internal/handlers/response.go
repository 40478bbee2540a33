package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lunaroja/api/internal/platform/httpx"
	"github.com/lunaroja/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeJSONBody reads and strictly decodes a bounded JSON body, writing the error response itself.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// writeServiceError maps service sentinels onto the HTTP error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var cartErr *services.CartValidationError
	if errors.As(err, &cartErr) {
		httpx.WriteError(ctx, w, httpx.NewError("cart_rejected", "one or more cart lines cannot be purchased", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"issues": cartIssues(cartErr)}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "requested quantity is no longer available", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrProductNotFound), errors.Is(err, services.ErrVariantUnavailable), errors.Is(err, services.ErrInvalidCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment gateway unavailable, try again", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
	}
}

type cartIssueResponse struct {
	Line       int    `json:"line"`
	ProductID  string `json:"productId,omitempty"`
	VariantKey string `json:"variantKey,omitempty"`
	Reason     string `json:"reason"`
}

func cartIssues(err *services.CartValidationError) []cartIssueResponse {
	out := make([]cartIssueResponse, 0, len(err.Issues))
	for _, issue := range err.Issues {
		out = append(out, cartIssueResponse{
			Line:       issue.Line,
			ProductID:  issue.ProductID,
			VariantKey: issue.VariantKey,
			Reason:     issueReason(issue.Reason),
		})
	}
	return out
}

func issueReason(err error) string {
	switch {
	case errors.Is(err, services.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, services.ErrVariantUnavailable):
		return "variant_unavailable"
	case errors.Is(err, services.ErrInsufficientStock):
		return "insufficient_stock"
	default:
		return "invalid_line"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
