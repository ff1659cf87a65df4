package sessionsync

import (
	"context"
)

var userCtxKey = &contextKey{"user"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithUserContext sets the resolved user in the given context.
func WithUserContext(ctx context.Context, user *ApplicationUser) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// UserFromContext finds the resolved user in the context.
func UserFromContext(ctx context.Context) (*ApplicationUser, bool) {
	raw, ok := ctx.Value(userCtxKey).(*ApplicationUser)
	return raw, ok
}

// WithSessionContext sets the provider session in the given context.
func WithSessionContext(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the provider session in the context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*Session)
	return raw, ok
}

// HasRole checks the context user's role against a minimum.
func HasRole(ctx context.Context, role ProfileRole) bool {
	user, ok := UserFromContext(ctx)
	if !ok || user == nil {
		return false
	}
	return user.Role.IsAtLeast(role)
}
