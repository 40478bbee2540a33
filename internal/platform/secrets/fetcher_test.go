package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{values: map[string]string{}, calls: map[string]int{}}
}

func (c *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if c.err != nil {
		return nil, c.err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (c *fakeAccessClient) Close() error { return nil }

func writeFallback(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/luna-roja/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "sk_test_123"

	now := time.Unix(1_700_000_000, 0)
	fetcher, err := NewFetcher(ctx, withAccessClient(client), WithProject("luna-roja"),
		WithFallbackFile(""), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe_api_key")
		if err != nil || got != "sk_test_123" {
			t.Fatalf("Resolve #%d: %q, %v", i, got, err)
		}
	}
	if client.calls[resource] != 1 {
		t.Fatalf("expected one remote fetch, got %d", client.calls[resource])
	}

	now = now.Add(defaultCacheTTL + time.Second)
	if _, err := fetcher.Resolve(ctx, "secret://stripe_api_key"); err != nil {
		t.Fatalf("Resolve after ttl: %v", err)
	}
	if client.calls[resource] != 2 {
		t.Fatalf("expected refetch after ttl, got %d", client.calls[resource])
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	client := newFakeAccessClient()
	client.values["projects/other/secrets/webhook/versions/3"] = "whsec_3"
	fetcher, err := NewFetcher(context.Background(), withAccessClient(client), WithProject("luna-roja"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.ResolveSecret(context.Background(), "secret://webhook?version=3&project=other")
	if err != nil || got != "whsec_3" {
		t.Fatalf("unexpected %q, %v", got, err)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	client := newFakeAccessClient()
	client.err = status.Error(codes.PermissionDenied, "no access")
	path := writeFallback(t, "stripe_api_key: sk_local\nsecret://postgres_dsn: postgres://localhost/lunaroja\n")

	fetcher, err := NewFetcher(context.Background(), withAccessClient(client), WithProject("luna-roja"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	if err != nil || got != "sk_local" {
		t.Fatalf("unexpected %q, %v", got, err)
	}
	got, err = fetcher.Resolve(context.Background(), "secret://postgres_dsn")
	if err != nil || got != "postgres://localhost/lunaroja" {
		t.Fatalf("unexpected %q, %v", got, err)
	}
}

func TestResolveDoesNotMaskHardFailures(t *testing.T) {
	client := newFakeAccessClient()
	client.err = status.Error(codes.InvalidArgument, "bad name")
	path := writeFallback(t, "stripe_api_key: sk_local\n")

	fetcher, err := NewFetcher(context.Background(), withAccessClient(client), WithProject("luna-roja"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key"); err == nil {
		t.Fatalf("expected invalid argument to surface")
	}
}

func TestResolveOfflineMissing(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), WithoutSecretManager(), WithFallbackFile(writeFallback(t, "a: b\n")))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(context.Background(), "secret://kafka_password"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	client := newFakeAccessClient()
	resource := "projects/luna-roja/secrets/stripe_api_key/versions/latest"
	client.values[resource] = "v1"
	fetcher, _ := NewFetcher(context.Background(), withAccessClient(client), WithProject("luna-roja"), WithFallbackFile(""))

	if got, _ := fetcher.Resolve(context.Background(), "secret://stripe_api_key"); got != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}
	client.values[resource] = "v2"
	fetcher.Invalidate("secret://stripe_api_key")
	if got, _ := fetcher.Resolve(context.Background(), "secret://stripe_api_key"); got != "v2" {
		t.Fatalf("expected v2 after invalidate, got %q", got)
	}
}

func TestParseReferenceRejectsBadInput(t *testing.T) {
	for _, ref := range []string{"", "https://x", "secret://", "secret://a/b"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}
