package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lunaroja/api/internal/platform/httpx"
	"github.com/lunaroja/api/internal/services"
)

// InternalHandlers serves scheduler-driven maintenance endpoints. Authentication
// is applied by the /internal group middleware.
type InternalHandlers struct {
	expiry services.ExpiryWatchdog
}

// NewInternalHandlers constructs the maintenance handlers.
func NewInternalHandlers(expiry services.ExpiryWatchdog) *InternalHandlers {
	return &InternalHandlers{expiry: expiry}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:sweep-expired", h.sweepExpired)
}

type sweepResponse struct {
	Checked int `json:"checked"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

func (h *InternalHandlers) sweepExpired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.expiry == nil {
		httpx.WriteError(ctx, w, httpx.NewError("expiry_unavailable", "expiry watchdog unavailable", http.StatusServiceUnavailable))
		return
	}
	result, err := h.expiry.Sweep(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sweepResponse{Checked: result.Checked, Expired: result.Expired, Failed: result.Failed})
}
