package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/lunaroja/api/internal/platform/config"
	pfirestore "github.com/lunaroja/api/internal/platform/firestore"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

var errSentinel = errors.New("sentinel")

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "lunaroja-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestProviderPingAndTransaction(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	coll, err := provider.Collection(ctx, "samples")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	ref := coll.Doc("sample-1")

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return tx.Set(ref, sampleEntity{Name: "alpha", Count: 1})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got sampleEntity
	if err := snap.DataTo(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "alpha" || got.Count != 1 {
		t.Fatalf("unexpected entity %#v", got)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return errSentinel
	})
	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected domain error to pass through, got %v", err)
	}
}

func TestWrapErrorClassifiesMissingDocument(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	coll, err := provider.Collection(ctx, "samples")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	_, err = coll.Doc("missing").Get(ctx)
	wrapped := pfirestore.WrapError("samples.get", err)

	var repoErr interface{ IsNotFound() bool }
	if !errors.As(wrapped, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", wrapped)
	}
}

func TestProviderClosed(t *testing.T) {
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "lunaroja-test"})
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, pfirestore.ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
