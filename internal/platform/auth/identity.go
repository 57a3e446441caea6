package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles carried in the Firebase "role" custom claim.
const (
	RoleMerchant   = "merchant"
	RoleSuperAdmin = "superadmin"
)

// Custom claims minted into impersonation tokens.
const (
	ClaimImpersonatedBy  = "impersonatedBy"
	ClaimImpersonationID = "impersonationId"
)

// Identity captures the authenticated principal details extracted from a Firebase ID token.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string

	// ImpersonatedBy is the super admin UID when the token was minted for an impersonation session.
	ImpersonatedBy  string
	ImpersonationID string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsImpersonated reports whether a super admin is acting through this identity.
func (i *Identity) IsImpersonated() bool {
	return i != nil && i.ImpersonatedBy != ""
}

// ActorID returns the UID that should be recorded as responsible for an action.
func (i *Identity) ActorID() string {
	if i == nil {
		return ""
	}
	if i.ImpersonatedBy != "" {
		return i.ImpersonatedBy
	}
	return i.UID
}

type contextKey string

const identityContextKey contextKey = "github.com/flowix-ar/storefront/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
