package bearerauth

import (
	"context"

	"github.com/tokenforge/bearerauth/identity"
)

type identityContextKey struct{}

// ContextWithIdentity returns a context carrying the authenticated identity.
func ContextWithIdentity(ctx context.Context, rec identity.Record) context.Context {
	return context.WithValue(ctx, identityContextKey{}, rec)
}

// IdentityFromContext retrieves the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (identity.Record, bool) {
	rec, ok := ctx.Value(identityContextKey{}).(identity.Record)
	return rec, ok
}
