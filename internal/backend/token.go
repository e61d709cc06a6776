package backend

import (
	"context"
)

type tokenKey struct{}

// ContextWithToken attaches the caller's bearer token to the context so it
// survives the confirmation round trip. Deferred executions (a confirmed
// destructive command) run under the token of the request that answered the
// confirmation, not the one that created it.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the bearer token attached to the context, or "".
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
