package session

import (
	"context"

	"arabiq.org/internal/authz"
)

type sessionContextKey struct{}

// ContextWith attaches the assembled session to the request context.
func ContextWith(ctx context.Context, sc authz.SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &sc)
}

// FromContext extracts the session. The zero SessionContext is an anonymous
// session, so a missing value still evaluates correctly.
func FromContext(ctx context.Context) (authz.SessionContext, bool) {
	if ctx == nil {
		return authz.SessionContext{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*authz.SessionContext)
	if !ok || v == nil {
		return authz.SessionContext{}, false
	}
	return *v, true
}
