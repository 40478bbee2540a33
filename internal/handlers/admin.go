package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/platform/auth"
	"github.com/lunaroja/api/internal/platform/authz"
	"github.com/lunaroja/api/internal/platform/httpx"
	"github.com/lunaroja/api/internal/platform/pagination"
	"github.com/lunaroja/api/internal/platform/storage"
	"github.com/lunaroja/api/internal/services"
)

const (
	defaultAdminPageSize      = 20
	maxAdminPageSize          = 100
	maxStatusRequestBody      = 4 * 1024
	maxReasonLength           = 500
	defaultReconciliationLink = 15 * time.Minute
)

type adminPolicy interface {
	Allowed(roles []string, obj, act string) (bool, error)
	CanTransition(roles []string, target string) (bool, error)
}

type reconciliationArchive interface {
	Bucket() string
	ListDay(ctx context.Context, day time.Time) ([]storage.ObjectInfo, error)
}

type downloadSigner interface {
	DownloadURL(ctx context.Context, bucket, object string, expiresIn time.Duration) (storage.DownloadURL, error)
}

// AdminHandlers serves the back-office endpoints. The /admin group middleware
// authenticates staff; the casbin policy decides what each role may do.
type AdminHandlers struct {
	orders  services.OrderService
	policy  adminPolicy
	archive reconciliationArchive
	signer  downloadSigner
	linkTTL time.Duration
}

// AdminHandlersOption customises AdminHandlers.
type AdminHandlersOption func(*AdminHandlers)

// WithReconciliationArchive enables the discrepancy listing. A nil signer lists
// objects without download links.
func WithReconciliationArchive(archive reconciliationArchive, signer downloadSigner, linkTTL time.Duration) AdminHandlersOption {
	return func(h *AdminHandlers) {
		h.archive = archive
		h.signer = signer
		if linkTTL > 0 {
			h.linkTTL = linkTTL
		}
	}
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(orders services.OrderService, policy adminPolicy, opts ...AdminHandlersOption) *AdminHandlers {
	h := &AdminHandlers{
		orders:  orders,
		policy:  policy,
		linkTTL: defaultReconciliationLink,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderId}", h.getOrder)
	r.Get("/orders/{orderId}/history", h.orderHistory)
	r.Put("/orders/{orderId}/status", h.updateStatus)
	r.Get("/reconciliation", h.listReconciliation)
}

type orderListResponse struct {
	Items         []orderResponse `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type reconciliationItem struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"createdAt,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

type reconciliationResponse struct {
	Date  string               `json:"date"`
	Items []reconciliationItem `json:"items"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.authorize(w, r, authz.ObjectOrders, authz.ActionRead); !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: defaultAdminPageSize, MaxPageSize: maxAdminPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		Status:        domain.OrderStatus(strings.ToLower(strings.TrimSpace(query.Get("status")))),
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(query.Get("paymentMethod")))),
		Pagination:    domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	if raw := strings.TrimSpace(query.Get("createdBefore")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdBefore must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		ts = ts.UTC()
		filter.CreatedBefore = &ts
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := orderListResponse{Items: make([]orderResponse, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, newOrderResponse(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.authorize(w, r, authz.ObjectOrders, authz.ActionRead); !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newOrderResponse(order))
}

func (h *AdminHandlers) orderHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.authorize(w, r, authz.ObjectOrders, authz.ActionRead); !ok {
		return
	}
	changes, err := h.orders.ListStatusChanges(ctx, strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]statusChangeResponse, 0, len(changes))
	for _, change := range changes {
		items = append(items, newStatusChangeResponse(change))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AdminHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeJSONBody(w, r, maxStatusRequestBody, &req) {
		return
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a known order status", http.StatusBadRequest))
		return
	}

	allowed, err := h.policy.CanTransition(identity.Roles, string(target))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("authorization_failed", "unable to evaluate permissions", http.StatusInternalServerError))
		return
	}
	if !allowed {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden_transition", "your role may not set status "+string(target), http.StatusForbidden))
		return
	}

	result, err := h.orders.Transition(ctx, services.TransitionCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		Target:  target,
		Actor:   domain.ActorAdmin,
		Reason:  adminReason(identity.UID, req.Reason),
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderConflict) && result.Order.Status != "" {
			httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict).
				WithDetails(map[string]any{"current_status": string(result.Order.Status)}))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, transitionResponse{Order: newOrderResponse(result.Order), Applied: result.Applied})
}

func (h *AdminHandlers) listReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.authorize(w, r, authz.ObjectReconciliation, authz.ActionRead); !ok {
		return
	}
	if h.archive == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_unavailable", "reconciliation archive not configured", http.StatusServiceUnavailable))
		return
	}
	day, err := storage.ParseReconciliationDay(r.URL.Query().Get("date"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date must be YYYY-MM-DD", http.StatusBadRequest))
		return
	}

	objects, err := h.archive.ListDay(ctx, day)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_unavailable", "unable to list reconciliation records", http.StatusServiceUnavailable))
		return
	}
	resp := reconciliationResponse{Date: day.Format(time.DateOnly), Items: make([]reconciliationItem, 0, len(objects))}
	for _, obj := range objects {
		item := reconciliationItem{Name: obj.Name, Size: obj.Size, CreatedAt: formatTime(obj.Created)}
		if h.signer != nil {
			link, err := h.signer.DownloadURL(ctx, h.archive.Bucket(), obj.Name, h.linkTTL)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("signing_failed", "unable to sign download links", http.StatusInternalServerError))
				return
			}
			item.DownloadURL = link.URL
			item.ExpiresAt = formatTime(link.ExpiresAt)
		}
		resp.Items = append(resp.Items, item)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil || h.policy == nil {
		httpx.WriteError(ctx, w, httpx.NewError("admin_unavailable", "admin services unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *AdminHandlers) authorize(w http.ResponseWriter, r *http.Request, obj, act string) (*auth.Identity, bool) {
	identity, ok := h.identity(w, r)
	if !ok {
		return nil, false
	}
	allowed, err := h.policy.Allowed(identity.Roles, obj, act)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("authorization_failed", "unable to evaluate permissions", http.StatusInternalServerError))
		return nil, false
	}
	if !allowed {
		httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "insufficient role", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func adminReason(uid, reason string) string {
	reason = strings.TrimSpace(reason)
	if runes := []rune(reason); len(runes) > maxReasonLength {
		reason = string(runes[:maxReasonLength])
	}
	if reason == "" {
		return "admin:" + uid
	}
	return "admin:" + uid + ": " + reason
}
