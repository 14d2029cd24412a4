// Package auth validates bearer tokens and attaches the resulting
// identity to the request context.
package auth

import (
	"context"
	"time"
)

// Identity is an authenticated caller.
type Identity struct {
	// Subject is the unique identifier for the caller (user ID).
	Subject string `json:"sub"`

	// Role is the platform role (student, tutor, parent, admin).
	Role string `json:"role,omitempty"`

	// Email is the caller's email address.
	Email string `json:"email,omitempty"`

	// ExpiresAt is when the identity expires.
	ExpiresAt time.Time `json:"exp,omitempty"`

	// Claims contains the remaining token claims.
	Claims map[string]interface{} `json:"claims,omitempty"`
}

// IsExpired returns true if the identity has expired.
func (i *Identity) IsExpired() bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(i.ExpiresAt)
}

// HasRole checks if the identity has the given role.
func (i *Identity) HasRole(role string) bool {
	return i.Role == role
}

type contextKey struct{}

var identityKey = contextKey{}

// ContextWithIdentity adds an identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext extracts the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}
