package auth

import (
	"context"
	"strings"
)

// Roles granted through the Firebase "role" custom claim.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is a verified store staff member.
type Identity struct {
	UID   string
	Email string
	Roles []string
}

// HasRole reports whether the identity carries role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PrimaryRole returns the most privileged role held.
func (i *Identity) PrimaryRole() string {
	switch {
	case i.HasRole(RoleAdmin):
		return RoleAdmin
	case i.HasRole(RoleStaff):
		return RoleStaff
	default:
		return ""
	}
}

type identityKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity placed by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
