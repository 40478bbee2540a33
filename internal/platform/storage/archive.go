package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/iterator"

	"github.com/lunaroja/api/internal/services"
)

const recordContentType = "application/json"

// ObjectInfo describes one archived object.
type ObjectInfo struct {
	Name    string
	Size    int64
	Created time.Time
}

type objectStore interface {
	Write(ctx context.Context, bucket, object, contentType string, data []byte) error
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// DiscrepancyRecord is the archived JSON form of a reconciliation discrepancy.
type DiscrepancyRecord struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"orderId,omitempty"`
	SessionID       string    `json:"sessionId,omitempty"`
	Kind            string    `json:"kind"`
	AttemptedStatus string    `json:"attemptedStatus,omitempty"`
	CurrentStatus   string    `json:"currentStatus,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Archive stores discrepancy records in a Cloud Storage bucket for operator follow-up.
type Archive struct {
	store  objectStore
	bucket string
	newID  func() string
	now    func() time.Time
}

// ArchiveOption customises an Archive.
type ArchiveOption func(*Archive)

// WithArchiveClock injects the clock used when a record carries no timestamp.
func WithArchiveClock(clock func() time.Time) ArchiveOption {
	return func(a *Archive) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithArchiveIDGenerator overrides record id generation.
func WithArchiveIDGenerator(gen func() string) ArchiveOption {
	return func(a *Archive) {
		if gen != nil {
			a.newID = gen
		}
	}
}

// NewArchive constructs an Archive writing through the Cloud Storage client.
func NewArchive(client *gcs.Client, bucket string, opts ...ArchiveOption) (*Archive, error) {
	if client == nil {
		return nil, errors.New("storage archive: client is required")
	}
	return newArchive(&gcsObjectStore{client: client}, bucket, opts...)
}

func newArchive(store objectStore, bucket string, opts ...ArchiveOption) (*Archive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	a := &Archive{
		store:  store,
		bucket: bucket,
		newID:  func() string { return ulid.Make().String() },
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Bucket returns the bucket records are written to.
func (a *Archive) Bucket() string { return a.bucket }

// Record implements services.ReconciliationRecorder.
func (a *Archive) Record(ctx context.Context, d services.Discrepancy) error {
	occurred := d.OccurredAt
	if occurred.IsZero() {
		occurred = a.now()
	}
	record := DiscrepancyRecord{
		ID:              a.newID(),
		OrderID:         strings.TrimSpace(d.OrderID),
		SessionID:       strings.TrimSpace(d.SessionID),
		Kind:            d.Kind,
		AttemptedStatus: string(d.AttemptedStatus),
		CurrentStatus:   string(d.CurrentStatus),
		Detail:          d.Detail,
		OccurredAt:      occurred.UTC(),
	}
	object, err := ReconciliationObjectPath(record.OccurredAt, record.OrderID, record.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("storage archive: marshal record: %w", err)
	}
	if err := a.store.Write(ctx, a.bucket, object, recordContentType, data); err != nil {
		return fmt.Errorf("storage archive: write %s: %w", object, err)
	}
	return nil
}

// ListDay returns the records archived for one UTC day.
func (a *Archive) ListDay(ctx context.Context, day time.Time) ([]ObjectInfo, error) {
	objects, err := a.store.List(ctx, a.bucket, ReconciliationPrefix(day))
	if err != nil {
		return nil, fmt.Errorf("storage archive: list: %w", err)
	}
	return objects, nil
}

type gcsObjectStore struct {
	client *gcs.Client
}

func (s *gcsObjectStore) Write(ctx context.Context, bucket, object, contentType string, data []byte) error {
	// DoesNotExist keeps a retried write from replacing an existing record.
	w := s.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *gcsObjectStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ObjectInfo{Name: attrs.Name, Size: attrs.Size, Created: attrs.Created})
	}
	return out, nil
}
