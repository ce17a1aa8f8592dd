package auth

import "context"

type identityContextKey struct{}

// WithIdentityID returns a child context carrying the authenticated identity id.
func WithIdentityID(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identityID)
}

// IdentityIDFromContext extracts the identity id attached by the session guard.
func IdentityIDFromContext(ctx context.Context) (string, bool) {
	identityID, ok := ctx.Value(identityContextKey{}).(string)
	if !ok || identityID == "" {
		return "", false
	}
	return identityID, true
}
