package jobs

import (
	"context"
	"errors"

	domain "github.com/lunaroja/api/internal/domain"
)

// Dispatcher delivers lifecycle events to one downstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.LifecycleEvent) error
}

// Fanout delivers each event to every dispatcher and joins their errors.
type Fanout []Dispatcher

// Dispatch implements Dispatcher.
func (f Fanout) Dispatch(ctx context.Context, event domain.LifecycleEvent) error {
	var errs []error
	for _, d := range f {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogDispatcher records lifecycle events through the structured logger. It is the
// dispatcher used when no broker is configured.
type LogDispatcher struct {
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Dispatch implements Dispatcher.
func (l LogDispatcher) Dispatch(ctx context.Context, event domain.LifecycleEvent) error {
	if l.Logger == nil {
		return nil
	}
	msg := NewLifecycleMessage(event)
	l.Logger(ctx, "order.lifecycle", map[string]any{
		"eventType": msg.EventType(),
		"eventId":   msg.EventID,
		"orderId":   msg.OrderID,
		"from":      msg.OldStatus,
		"to":        msg.NewStatus,
		"actor":     msg.Actor,
	})
	return nil
}
