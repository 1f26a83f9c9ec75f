// ABOUTME: Request identity carried through handlers via context.Context
// ABOUTME: Provides WithIdentity/FromContext plus the gate's per-request examination state

package auth

import (
	"context"
	"slices"
)

// AuthorityUser is granted to every authenticated principal.
const AuthorityUser = "user"

// Identity is the authenticated principal attached to a request.
// It is populated by the Gate and can be retrieved from context in handlers.
type Identity struct {
	PrincipalID string
	Username    string
	Authorities []string
}

// HasAuthority reports whether the identity was granted authority.
func (i *Identity) HasAuthority(authority string) bool {
	return i != nil && slices.Contains(i.Authorities, authority)
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// stateKey is the key type for storing the gate's State in context.Context.
type stateKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if the
// request is anonymous.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}

// StateFromContext returns what the gate concluded about this request, or
// StateUnexamined if the gate has not run.
func StateFromContext(ctx context.Context) State {
	s, ok := ctx.Value(stateKey{}).(State)
	if !ok {
		return StateUnexamined
	}
	return s
}

func withState(ctx context.Context, s State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}
