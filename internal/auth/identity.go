// Package auth consumes the identity claims issued by the external
// identity provider. The service never authenticates credentials
// itself; it verifies the token signature and trusts the organization
// code and scopes inside.
package auth

import (
	"context"
	"slices"
	"strings"
)

// Scopes granted by the identity provider.
const (
	ScopePlansRead  = "plans:read"
	ScopePlansWrite = "plans:write"
)

// Identity is the authenticated caller: the organization it submits
// for, and the scopes it was granted. The organization code is the
// tenant boundary for every operation.
type Identity struct {
	OrgCode string
	Scopes  []string
}

// HasScope reports whether the identity was granted the scope.
func (i *Identity) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// AllowsOrg reports whether the identity may act for the organization.
// The wildcard org is only issued by the dev no-auth mode.
func (i *Identity) AllowsOrg(orgCode string) bool {
	return i.OrgCode == orgCode || i.OrgCode == Wildcard
}

// Wildcard matches any organization. Development only.
const Wildcard = "*"

// DevIdentity is the identity injected when authentication is
// disabled.
func DevIdentity() *Identity {
	return &Identity{
		OrgCode: Wildcard,
		Scopes:  []string{ScopePlansRead, ScopePlansWrite},
	}
}

type contextKey int

const identityContextKey contextKey = iota

// IdentityFromContext extracts the authenticated identity from the
// request context. Returns nil for an unauthenticated request.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey).(*Identity)
	return identity
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func splitScopes(scope string) []string {
	return strings.Fields(scope)
}
