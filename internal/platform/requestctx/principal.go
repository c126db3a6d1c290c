// Package requestctx carries the authenticated principal through request
// and connection scopes.
package requestctx

import "context"

// principalIDContextKey is the context key for the authenticated principal.
type principalIDContextKey struct{}

// WithPrincipalID stores a principal identifier in context.
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalIDContextKey{}, principalID)
}

// PrincipalIDFromContext returns the principal identifier stored in context.
// It returns the empty string for unauthenticated requests.
func PrincipalIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(principalIDContextKey{}).(string)
	return value
}
