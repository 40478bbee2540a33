package jobs

import (
	"fmt"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
)

// LifecycleMessage is the wire shape of an order status change published to brokers.
type LifecycleMessage struct {
	EventID       string    `json:"eventId"`
	OrderID       string    `json:"orderId"`
	OldStatus     string    `json:"oldStatus,omitempty"`
	NewStatus     string    `json:"newStatus"`
	Actor         string    `json:"actor"`
	PaymentMethod string    `json:"paymentMethod"`
	Total         int64     `json:"total"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// EventType names the change for routing attributes and headers.
func (m LifecycleMessage) EventType() string {
	if m.OldStatus == "" {
		return "order.created"
	}
	return "order.status_changed"
}

// NewLifecycleMessage flattens a lifecycle event into its published form.
func NewLifecycleMessage(event domain.LifecycleEvent) LifecycleMessage {
	return LifecycleMessage{
		EventID:       event.ID,
		OrderID:       event.OrderID,
		OldStatus:     string(event.OldStatus),
		NewStatus:     string(event.NewStatus),
		Actor:         string(event.Actor),
		PaymentMethod: string(event.Order.PaymentMethod),
		Total:         event.Order.Totals.Total,
		CustomerEmail: event.Order.Customer.Email,
		OccurredAt:    event.OccurredAt.UTC(),
	}
}

func encodeLifecycle(marshal func(any) ([]byte, error), event domain.LifecycleEvent) (LifecycleMessage, []byte, error) {
	msg := NewLifecycleMessage(event)
	data, err := marshal(msg)
	if err != nil {
		return LifecycleMessage{}, nil, fmt.Errorf("marshal lifecycle event: %w", err)
	}
	return msg, data, nil
}
