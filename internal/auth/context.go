// ABOUTME: Request context helpers carrying the authenticated user id
// ABOUTME: Provides WithUser/UserFromContext for handlers behind the auth middleware

package auth

import (
	"context"
)

// userContextKey is the key type for storing the user id in context.Context.
type userContextKey struct{}

// WithUser returns a new context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserFromContext returns the authenticated user id, or "" if none is attached.
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userContextKey{}).(string)
	return id
}

// MustUserFromContext returns the authenticated user id, panicking if not present.
func MustUserFromContext(ctx context.Context) string {
	id := UserFromContext(ctx)
	if id == "" {
		panic("auth: user not found in context")
	}
	return id
}
