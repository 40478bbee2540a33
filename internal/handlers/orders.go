package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/platform/httpx"
	"github.com/lunaroja/api/internal/services"
)

const (
	maxCheckoutRequestBody = 16 * 1024
	maxCheckoutLines       = 50
)

// OrderHandlers exposes the storefront order endpoints. They are unauthenticated;
// order ids are unguessable ULIDs shared only with the buyer.
type OrderHandlers struct {
	checkout    services.CheckoutService
	orders      services.OrderService
	expiry      services.ExpiryWatchdog
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency wraps checkout submission with the idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithOrderRateLimit caps mutating requests per client address.
func WithOrderRateLimit(limit int, window time.Duration, clock func() time.Time) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = newWindowRateLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs the storefront order handlers.
func NewOrderHandlers(checkout services.CheckoutService, orders services.OrderService, expiry services.ExpiryWatchdog, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		checkout: checkout,
		orders:   orders,
		expiry:   expiry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderId}", h.getOrder)

	mutating := r.With(rateLimit(h.limiter))
	if h.idempotency != nil {
		mutating.With(h.idempotency).Post("/", h.createOrder)
	} else {
		mutating.Post("/", h.createOrder)
	}
	mutating.Post("/{orderId}:report-payment", h.reportPayment)
	mutating.Post("/{orderId}:check-expiry", h.checkExpiry)
}

type checkoutRequest struct {
	Lines         []checkoutLineRequest   `json:"lines"`
	Customer      checkoutCustomerRequest `json:"customer"`
	Shipping      checkoutShippingRequest `json:"shipping"`
	PaymentMethod string                  `json:"paymentMethod"`
}

type checkoutLineRequest struct {
	ProductID  string `json:"productId"`
	VariantKey string `json:"variantKey"`
	Quantity   int    `json:"quantity"`
	Price      int64  `json:"price,omitempty"`
}

type checkoutCustomerRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	DocumentNumber string `json:"documentNumber,omitempty"`
}

type checkoutShippingRequest struct {
	MethodID string         `json:"methodId"`
	Detail   string         `json:"detail,omitempty"`
	Address  addressPayload `json:"address"`
}

type addressPayload struct {
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	Unit       string `json:"unit,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		Street:     a.Street,
		Number:     a.Number,
		Unit:       a.Unit,
		City:       a.City,
		Region:     a.Region,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func (req checkoutRequest) toCommand() services.CheckoutCommand {
	lines := make([]services.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CartLine{
			ProductID:    strings.TrimSpace(line.ProductID),
			VariantKey:   strings.TrimSpace(line.VariantKey),
			Quantity:     line.Quantity,
			ClaimedPrice: line.Price,
		})
	}
	return services.CheckoutCommand{
		Lines: lines,
		Customer: services.CustomerInput{
			Name:           req.Customer.Name,
			Email:          req.Customer.Email,
			Phone:          req.Customer.Phone,
			DocumentNumber: req.Customer.DocumentNumber,
		},
		Shipping: services.ShippingInput{
			MethodID: strings.TrimSpace(req.Shipping.MethodID),
			Detail:   req.Shipping.Detail,
			Address:  req.Shipping.Address.toDomain(),
		},
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
	}
}

type checkoutResponse struct {
	Order       orderResponse     `json:"order"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
	SessionID   string            `json:"sessionId,omitempty"`
	Transfer    *transferResponse `json:"transfer,omitempty"`
}

type transitionResponse struct {
	Order   orderResponse `json:"order"`
	Applied bool          `json:"applied"`
}

type expiryResponse struct {
	Expired bool          `json:"expired"`
	Order   orderResponse `json:"order"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}
	if len(req.Lines) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one cart line is required", http.StatusBadRequest))
		return
	}
	if len(req.Lines) > maxCheckoutLines {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many cart lines", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.Checkout(ctx, req.toCommand())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := checkoutResponse{
		Order:       newOrderResponse(result.Order),
		RedirectURL: result.RedirectURL,
		SessionID:   result.SessionID,
	}
	if result.Transfer != nil {
		resp.Transfer = newTransferResponse(*result.Transfer)
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

func (h *OrderHandlers) reportPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	result, err := h.orders.ReportTransferPayment(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, transitionResponse{Order: newOrderResponse(result.Order), Applied: result.Applied})
}

func (h *OrderHandlers) checkExpiry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.expiry == nil {
		httpx.WriteError(ctx, w, httpx.NewError("expiry_unavailable", "expiry watchdog unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	result, err := h.expiry.CheckExpiry(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, expiryResponse{Expired: result.Expired, Order: newOrderResponse(result.Order)})
}
