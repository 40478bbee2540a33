package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lunaroja/api/internal/platform/httpx"
	"github.com/lunaroja/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "Idempotent-Replayed"
	maxKeyLength      = 255
	maxBodyBytes      = 1 << 20
)

// Logger is the printf-style logger used for persistence failures.
type Logger interface {
	Printf(format string, args ...any)
}

type config struct {
	header   string
	ttl      time.Duration
	required bool
	clock    func() time.Time
	logger   Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*config)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(c *config) {
		if name = strings.TrimSpace(name); name != "" {
			c.header = name
		}
	}
}

// WithTTL sets how long responses remain replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRequiredKey rejects requests that omit the header.
func WithRequiredKey() MiddlewareOption {
	return func(c *config) { c.required = true }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) MiddlewareOption {
	return func(c *config) { c.logger = logger }
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Middleware makes a mutating endpoint safe to retry. The first request with a
// key runs the handler and its response is stored; repeats with the same body
// replay it, repeats with a different body get 422, and overlapping repeats
// get 409. Server errors are not stored so a retry can succeed.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := config{header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				if cfg.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", cfg.header+" header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body could not be read", http.StatusBadRequest))
				return
			}
			scoped := scopeKey(r, key)
			fingerprint := fingerprintOf(r, body)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				cfg.logf("idempotency: reserve failed: %v", err)
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replay(w, reservation.Record)
				return
			case ReservationStatePending:
				w.Header().Set("Retry-After", "1")
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			rec := &bufferedWriter{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped); err != nil {
					cfg.logf("idempotency: release after %d failed: %v", rec.status(), err)
				}
			} else if err := store.SaveResponse(ctx, scoped, fingerprint, rec.response(), cfg.clock().UTC(), cfg.ttl); err != nil {
				// The handler already ran; the client still gets its response.
				cfg.logf("idempotency: save response failed: %v", err)
			}
			rec.flush(w)
		})
	}
}

func (c config) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// scopeKey namespaces the client key by route and caller so keys cannot collide across endpoints.
func scopeKey(r *http.Request, key string) string {
	caller := "anonymous"
	if actor, ok := requestctx.ActorFrom(r.Context()); ok && actor.ID != "" {
		caller = actor.Kind + ":" + actor.ID
	}
	return r.Method + " " + r.URL.Path + "|" + caller + "|" + key
}

func fingerprintOf(r *http.Request, body []byte) string {
	return sha256Hex([]byte(r.Method + "\n" + r.URL.RequestURI() + "\n" + r.Header.Get("Content-Type") + "\n" + sha256Hex(body)))
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.code == 0 {
		b.code = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedWriter) response() Response {
	return Response{Status: b.status(), Headers: b.header.Clone(), Body: b.body.Bytes()}
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.status())
	_, _ = w.Write(b.body.Bytes())
}
