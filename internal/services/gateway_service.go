package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/payments"
)

const (
	discrepancyApprovedAfterCancel = "approved_after_cancel"
	discrepancyOutOfStock          = "approved_out_of_stock"
	discrepancyGatewayError        = "gateway_error"
)

type gatewayProvider interface {
	ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error)
	GetSession(ctx context.Context, sessionID string) (payments.SessionDetails, error)
}

// GatewayServiceDeps bundles collaborators required by the gateway callback handler.
type GatewayServiceDeps struct {
	Provider       gatewayProvider
	Orders         OrderService
	Reconciliation ReconciliationRecorder
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type gatewayService struct {
	provider       gatewayProvider
	orders         OrderService
	reconciliation ReconciliationRecorder
	clock          func() time.Time
	logger         func(context.Context, string, map[string]any)
}

// NewGatewayService constructs the webhook reconciler.
func NewGatewayService(deps GatewayServiceDeps) (GatewayService, error) {
	if deps.Provider == nil {
		return nil, errors.New("gateway service: payment provider is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("gateway service: order service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &gatewayService{
		provider:       deps.Provider,
		orders:         deps.Orders,
		reconciliation: deps.Reconciliation,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleCallback verifies the notification, re-reads the session from the gateway and
// drives the matching order transition. A nil return acknowledges the callback; only
// signature failures and persistence failures are returned.
func (g *gatewayService) HandleCallback(ctx context.Context, payload []byte, signature string) error {
	event, err := g.provider.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return fmt.Errorf("%w: %v", ErrCallbackSignature, err)
		}
		return err
	}
	if !event.Relevant {
		g.logger(ctx, "gateway.callback_ignored", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
		})
		return nil
	}

	session, err := g.provider.GetSession(ctx, event.SessionID)
	if err != nil {
		gwErr := g.gatewayError(event.SessionID, err)
		g.logger(ctx, "gateway.lookup_failed", map[string]any{
			"eventId":   event.ID,
			"sessionId": event.SessionID,
			"timeout":   gwErr.Timeout,
			"error":     err.Error(),
		})
		if !errors.Is(err, payments.ErrSessionNotFound) {
			g.record(ctx, Discrepancy{
				SessionID: event.SessionID,
				Kind:      discrepancyGatewayError,
				Detail:    gwErr.Error(),
			})
		}
		return nil
	}

	orderID := session.ExternalReference
	if orderID == "" {
		g.logger(ctx, "gateway.callback_unreferenced", map[string]any{
			"sessionId": session.ID,
		})
		return nil
	}

	var target domain.OrderStatus
	switch session.Status {
	case payments.StatusApproved:
		target = domain.OrderStatusPaid
	case payments.StatusRejected, payments.StatusCancelled:
		target = domain.OrderStatusCancelled
	default:
		g.logger(ctx, "gateway.callback_pending", map[string]any{
			"orderId":   orderID,
			"sessionId": session.ID,
		})
		return nil
	}

	res, err := g.orders.Transition(ctx, TransitionCommand{
		OrderID:           orderID,
		Target:            target,
		Actor:             domain.ActorGateway,
		Reason:            "gateway_" + string(session.Status),
		ExternalPaymentID: firstNonEmpty(session.PaymentIntentID, session.ID),
	})
	fields := map[string]any{
		"orderId":   orderID,
		"sessionId": session.ID,
		"target":    string(target),
	}
	switch {
	case err == nil:
		fields["applied"] = res.Applied
		g.logger(ctx, "gateway.callback_processed", fields)
		return nil
	case errors.Is(err, ErrOrderNotFound):
		g.logger(ctx, "gateway.callback_unknown_order", fields)
		return nil
	case errors.Is(err, ErrInsufficientStock):
		fields["error"] = err.Error()
		g.logger(ctx, "gateway.paid_out_of_stock", fields)
		g.record(ctx, Discrepancy{
			OrderID:         orderID,
			SessionID:       session.ID,
			Kind:            discrepancyOutOfStock,
			AttemptedStatus: target,
			CurrentStatus:   res.Order.Status,
			Detail:          err.Error(),
		})
		return nil
	case errors.Is(err, ErrOrderContention):
		fields["error"] = err.Error()
		g.logger(ctx, "gateway.callback_contention", fields)
		return err
	case errors.Is(err, ErrOrderConflict):
		fields["current"] = string(res.Order.Status)
		g.logger(ctx, "gateway.callback_conflict", fields)
		if target == domain.OrderStatusPaid && res.Order.Status == domain.OrderStatusCancelled {
			g.record(ctx, Discrepancy{
				OrderID:         orderID,
				SessionID:       session.ID,
				Kind:            discrepancyApprovedAfterCancel,
				AttemptedStatus: target,
				CurrentStatus:   res.Order.Status,
				Detail:          "payment approved for a cancelled order",
			})
		}
		return nil
	case errors.Is(err, ErrOrderInvalidInput):
		fields["error"] = err.Error()
		g.logger(ctx, "gateway.callback_invalid", fields)
		return nil
	default:
		return err
	}
}

func (g *gatewayService) gatewayError(sessionID string, err error) *GatewayError {
	gwErr := &GatewayError{Op: "get_session", SessionID: sessionID, Err: err}
	var lookupErr *payments.LookupError
	if errors.As(err, &lookupErr) {
		gwErr.Timeout = lookupErr.Timeout
	}
	return gwErr
}

func (g *gatewayService) record(ctx context.Context, d Discrepancy) {
	d.OccurredAt = g.clock()
	g.logger(ctx, "gateway.discrepancy", map[string]any{
		"orderId":   d.OrderID,
		"sessionId": d.SessionID,
		"kind":      d.Kind,
		"detail":    d.Detail,
	})
	if g.reconciliation == nil {
		return
	}
	if err := g.reconciliation.Record(ctx, d); err != nil {
		g.logger(ctx, "gateway.discrepancy_record_failed", map[string]any{
			"orderId":   d.OrderID,
			"sessionId": d.SessionID,
			"error":     err.Error(),
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
