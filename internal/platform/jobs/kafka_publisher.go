package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	domain "github.com/lunaroja/api/internal/domain"
)

const lifecycleSchemaVersion = "1"

type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// KafkaConfig selects the brokers and topic for lifecycle events.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	// Username and Password enable SASL/PLAIN when both are set.
	Username string
	Password string
}

// KafkaLifecyclePublisher produces order lifecycle events keyed by order id, so every
// change for one order lands on the same partition in order.
type KafkaLifecyclePublisher struct {
	client  recordProducer
	topic   string
	marshal func(any) ([]byte, error)
}

// NewKafkaLifecyclePublisher dials the brokers and returns a publisher.
func NewKafkaLifecyclePublisher(cfg KafkaConfig) (*KafkaLifecyclePublisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka lifecycle publisher: at least one broker is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	if id := strings.TrimSpace(cfg.ClientID); id != "" {
		opts = append(opts, kgo.ClientID(id))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, kgo.SASL(plain.Auth{User: cfg.Username, Pass: cfg.Password}.AsMechanism()))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka lifecycle publisher: create client: %w", err)
	}
	return newKafkaLifecyclePublisher(client, cfg.Topic)
}

func newKafkaLifecyclePublisher(client recordProducer, topic string) (*KafkaLifecyclePublisher, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka lifecycle publisher: topic is required")
	}
	return &KafkaLifecyclePublisher{
		client:  client,
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Dispatch produces the event and waits for broker acknowledgement.
func (p *KafkaLifecyclePublisher) Dispatch(ctx context.Context, event domain.LifecycleEvent) error {
	if p == nil || p.client == nil {
		return errors.New("kafka lifecycle publisher: not initialised")
	}
	msg, data, err := encodeLifecycle(p.marshal, event)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(msg.OrderID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(msg.EventType())},
			{Key: "status", Value: []byte(msg.NewStatus)},
			{Key: "version", Value: []byte(lifecycleSchemaVersion)},
		},
		Timestamp: msg.OccurredAt,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce lifecycle event: %w", err)
	}
	return nil
}

// Ping checks that at least one broker answers.
func (p *KafkaLifecyclePublisher) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return errors.New("kafka lifecycle publisher: not initialised")
	}
	return p.client.Ping(ctx)
}

// Close releases broker connections.
func (p *KafkaLifecyclePublisher) Close() {
	if p != nil && p.client != nil {
		p.client.Close()
	}
}
