package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	domain "github.com/lunaroja/api/internal/domain"
)

// PubSubLifecyclePublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubLifecyclePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubLifecyclePublisher constructs a Pub/Sub backed lifecycle publisher.
func NewPubSubLifecyclePublisher(topic *pubsub.Topic) (*PubSubLifecyclePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub lifecycle publisher: topic is required")
	}
	return &PubSubLifecyclePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Dispatch publishes the event and waits for the server id.
func (p *PubSubLifecyclePublisher) Dispatch(ctx context.Context, event domain.LifecycleEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub lifecycle publisher: not initialised")
	}

	msg, data, err := encodeLifecycle(p.marshal, event)
	if err != nil {
		return err
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", msg.EventType())
	setAttr(attrs, "eventId", msg.EventID)
	setAttr(attrs, "orderId", msg.OrderID)
	setAttr(attrs, "status", msg.NewStatus)
	setAttr(attrs, "paymentMethod", msg.PaymentMethod)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish lifecycle event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
