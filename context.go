package goElevate

import "context"

type sessionTokenContextKey struct{}

// WithSessionToken attaches the bearer session token to ctx. [Backend] and
// [Transport] adapters read it with [SessionTokenFrom].
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenContextKey{}, token)
}

// SessionTokenFrom returns the token attached by [WithSessionToken].
func SessionTokenFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(sessionTokenContextKey{}).(string)
	return token
}
