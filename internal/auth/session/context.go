package session

import "context"

type contextKey struct{}

// WithClaims returns a copy of ctx carrying verified claims.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the verified claims of the caller, if any.
func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(Claims)
	return c, ok
}

// Identity returns the caller's identity, or "" for anonymous requests.
func Identity(ctx context.Context) string {
	c, _ := FromContext(ctx)
	return c.Identity
}
