package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProducer) Ping(context.Context) error { return f.err }

func (f *fakeProducer) Close() { f.closed = true }

func TestKafkaLifecyclePublisherKeysByOrder(t *testing.T) {
	producer := &fakeProducer{}
	publisher, err := newKafkaLifecyclePublisher(producer, "order-lifecycle")
	if err != nil {
		t.Fatalf("newKafkaLifecyclePublisher: %v", err)
	}

	if err := publisher.Dispatch(context.Background(), testLifecycleEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(producer.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(producer.records))
	}
	record := producer.records[0]
	if record.Topic != "order-lifecycle" || string(record.Key) != "ord_01" {
		t.Fatalf("unexpected record routing topic=%s key=%s", record.Topic, record.Key)
	}
	headers := map[string]string{}
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] != "order.status_changed" || headers["status"] != "paid" {
		t.Fatalf("unexpected headers %v", headers)
	}
	var payload LifecycleMessage
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.OldStatus != "pending" || payload.Actor != "gateway" {
		t.Fatalf("unexpected payload %#v", payload)
	}

	publisher.Close()
	if !producer.closed {
		t.Fatalf("expected client to be closed")
	}
}

func TestKafkaLifecyclePublisherReturnsProduceError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("NOT_LEADER_FOR_PARTITION")}
	publisher, err := newKafkaLifecyclePublisher(producer, "order-lifecycle")
	if err != nil {
		t.Fatalf("newKafkaLifecyclePublisher: %v", err)
	}
	if err := publisher.Dispatch(context.Background(), testLifecycleEvent()); err == nil {
		t.Fatalf("expected produce error")
	}
}

func TestNewKafkaLifecyclePublisherValidates(t *testing.T) {
	if _, err := NewKafkaLifecyclePublisher(KafkaConfig{Topic: "t"}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := newKafkaLifecyclePublisher(&fakeProducer{}, " "); err == nil {
		t.Fatalf("expected error without topic")
	}
}
