package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

const (
	defaultFallbackPath = ".secrets.local.yaml"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/lunaroja/api/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret://NAME[?version=V&project=P] references against Secret
// Manager. Values are cached for a TTL. When Secret Manager is unreachable or the
// caller lacks access, a local YAML file of name: value pairs is consulted so the
// API runs on a laptop with no GCP credentials.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	project    string
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cached

	latency metric.Float64Histogram
}

type cached struct {
	value   string
	expires time.Time
}

type options struct {
	client       accessClient
	clientOpts   []option.ClientOption
	project      string
	ttl          time.Duration
	now          func() time.Time
	logger       *zap.Logger
	fallbackPath string
	offline      bool
	meter        metric.Meter
}

// Option customises a Fetcher.
type Option func(*options)

// WithProject sets the project used when a reference carries none.
func WithProject(projectID string) Option {
	return func(o *options) { o.project = strings.TrimSpace(projectID) }
}

// WithCacheTTL sets how long resolved values are reused.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithFallbackFile overrides the local fallback file path. Empty disables it.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallbackPath = strings.TrimSpace(path) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithoutSecretManager resolves from the fallback file only.
func WithoutSecretManager() Option {
	return func(o *options) { o.offline = true }
}

// WithMeter sets the meter recording fetch latency.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

func withAccessClient(client accessClient) Option {
	return func(o *options) { o.client = client }
}

// NewFetcher builds a Fetcher, dialling Secret Manager unless disabled.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := options{
		ttl:          defaultCacheTTL,
		now:          time.Now,
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	f := &Fetcher{
		client:       o.client,
		project:      o.project,
		ttl:          o.ttl,
		now:          o.now,
		logger:       o.logger,
		fallbackPath: o.fallbackPath,
		cache:        make(map[string]cached),
	}
	if f.client == nil && !o.offline && o.project != "" {
		client, err := secretmanager.NewClient(ctx, o.clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
		}
		f.client = client
		f.ownsClient = true
	}

	meter := o.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"))
	if err != nil {
		f.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}
	f.latency = latency
	return f, nil
}

// Close releases the Secret Manager client when the Fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.resource(f.project)

	f.mu.Lock()
	if entry, ok := f.cache[key]; ok && f.now().Before(entry.expires) {
		f.mu.Unlock()
		f.observe(ctx, start, "cache")
		return entry.value, nil
	}
	f.mu.Unlock()

	value, source, err := f.fetch(ctx, parsed)
	if err != nil {
		f.observe(ctx, start, "error")
		return "", err
	}

	f.mu.Lock()
	f.cache[key] = cached{value: value, expires: f.now().Add(f.ttl)}
	f.mu.Unlock()
	f.observe(ctx, start, source)
	return value, nil
}

// Invalidate drops any cached value for ref, forcing the next Resolve to refetch.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, parsed.resource(f.project))
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project
	if project == "" {
		project = f.project
	}
	if f.client != nil && project != "" {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: ref.resource(project)})
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case err == nil:
			return "", "", fmt.Errorf("secrets: empty payload for %s", ref.name)
		case !fallbackEligible(err):
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.name, err)
		}
		f.logger.Debug("secrets: secret manager unavailable, using fallback file",
			zap.String("secret", ref.name), zap.Error(err))
	}

	f.fallbackOnce.Do(f.loadFallback)
	if value, ok := f.fallback[ref.name]; ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.name)
}

func (f *Fetcher) loadFallback() {
	f.fallback = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	data, err := os.ReadFile(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("secrets: read fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
		}
		return
	}
	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		f.logger.Warn("secrets: parse fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
		return
	}
	for name, value := range values {
		name = strings.TrimPrefix(strings.TrimSpace(name), "secret://")
		if name != "" {
			f.fallback[name] = value
		}
	}
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	name    string
	version string
	project string
}

func (r reference) resource(defaultProject string) string {
	project := r.project
	if project == "" {
		project = defaultProject
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.name, r.version)
}

func parseReference(ref string) (reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		return reference{}, errors.New("secrets: reference must name exactly one secret")
	}
	q := u.Query()
	version := strings.TrimSpace(q.Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{name: name, version: version, project: strings.TrimSpace(q.Get("project"))}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}
