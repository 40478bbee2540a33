package services

import (
	"context"
	"errors"
	"time"
)

// ConversionPayload is what the marketing beacon receives for one paid order.
type ConversionPayload struct {
	OrderID       string    `json:"orderId"`
	Value         int64     `json:"value"`
	PaymentMethod string    `json:"paymentMethod"`
	Items         int       `json:"items"`
	PaidAt        time.Time `json:"paidAt"`
}

type conversionSender interface {
	Send(ctx context.Context, payload ConversionPayload) error
}

type jobSubmitter interface {
	Submit(name string, job func(context.Context) error) bool
}

// ConversionTrackerDeps bundles collaborators for the conversion tracker.
type ConversionTrackerDeps struct {
	Sender conversionSender
	Queue  jobSubmitter
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type conversionTracker struct {
	sender conversionSender
	queue  jobSubmitter
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewConversionTracker constructs a tracker that sends beacons off the request path.
func NewConversionTracker(deps ConversionTrackerDeps) (ConversionTracker, error) {
	if deps.Sender == nil {
		return nil, errors.New("conversion tracker: sender is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("conversion tracker: work queue is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &conversionTracker{
		sender: deps.Sender,
		queue:  deps.Queue,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// TrackPaid queues a beacon for the order. A full queue drops the beacon.
func (t *conversionTracker) TrackPaid(ctx context.Context, order Order) {
	items := 0
	for _, item := range order.Items {
		items += item.Quantity
	}
	payload := ConversionPayload{
		OrderID:       order.ID,
		Value:         order.Totals.Total,
		PaymentMethod: string(order.PaymentMethod),
		Items:         items,
		PaidAt:        t.clock(),
	}
	accepted := t.queue.Submit("conversion.beacon", func(jobCtx context.Context) error {
		if err := t.sender.Send(jobCtx, payload); err != nil {
			t.logger(jobCtx, "conversion.beacon_failed", map[string]any{
				"orderId": payload.OrderID,
				"error":   err.Error(),
			})
			return err
		}
		return nil
	})
	if !accepted {
		t.logger(ctx, "conversion.beacon_dropped", map[string]any{
			"orderId": order.ID,
		})
	}
}
