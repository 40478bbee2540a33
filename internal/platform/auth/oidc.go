package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/lunaroja/api/internal/platform/requestctx"
)

// ActorScheduler is the request actor recorded for verified service callers.
const ActorScheduler = "scheduler"

// ServicePolicy describes which Google-signed tokens may call an internal endpoint.
// Empty Issuers or Emails accept any value.
type ServicePolicy struct {
	Audience string
	Issuers  []string
	Emails   []string
}

// ServiceIdentity is the verified caller of an internal endpoint, usually Cloud Scheduler.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
	Expiry   time.Time
}

type serviceIdentityKey struct{}

// ServiceIdentityFromContext returns the identity placed by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator checks Google-signed OIDC tokens against a JWKS cache.
type OIDCValidator struct {
	keys   *JWKSCache
	logger Logger
}

// NewOIDCValidator builds a validator backed by keys.
func NewOIDCValidator(keys *JWKSCache, logger Logger) *OIDCValidator {
	if logger == nil {
		logger = nopLogger{}
	}
	return &OIDCValidator{keys: keys, logger: logger}
}

// RequireOIDC admits requests whose bearer token satisfies policy. Key fetch
// failures are reported as 503 so the scheduler retries.
func (v *OIDCValidator) RequireOIDC(policy ServicePolicy) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(policy.Audience)
	issuers := stringSet(policy.Issuers)
	emails := stringSet(policy.Emails)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if audience == "" || v == nil || v.keys == nil {
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "oidc verification not configured")
				return
			}
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "oidc token missing")
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(raw, claims, v.keys.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger.Printf("auth: oidc keys unavailable: %v", err)
					respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "oidc keys unavailable")
					return
				}
				v.logger.Printf("auth: oidc token rejected: %v", err)
				respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "oidc token verification failed")
				return
			}

			identity := &ServiceIdentity{Audience: audience}
			identity.Issuer, _ = claims["iss"].(string)
			identity.Subject, _ = claims["sub"].(string)
			identity.Email, _ = claims["email"].(string)
			if exp, ok := claims["exp"].(float64); ok {
				identity.Expiry = time.Unix(int64(exp), 0).UTC()
			}

			if !claims.VerifyAudience(audience, true) {
				respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "oidc audience mismatch")
				return
			}
			if !allowed(issuers, identity.Issuer) {
				respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "oidc issuer mismatch")
				return
			}
			if !allowed(emails, strings.ToLower(identity.Email)) {
				v.logger.Printf("auth: oidc caller %q not permitted", identity.Email)
				respondAuthError(ctx, w, http.StatusForbidden, "forbidden", "service account not permitted")
				return
			}

			ctx = context.WithValue(ctx, serviceIdentityKey{}, identity)
			ctx = requestctx.WithActor(ctx, requestctx.Actor{Kind: ActorScheduler, ID: identity.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
			set[value] = struct{}{}
		}
	}
	return set
}

func allowed(set map[string]struct{}, value string) bool {
	if len(set) == 0 {
		return true
	}
	_, ok := set[strings.ToLower(value)]
	return ok
}
