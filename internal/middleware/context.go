package middleware

import "context"

type ctxKey struct{}

// WithUserID stores the authenticated user in the request context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// GetUserID returns the user_id set by BearerAuth, or "".
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}
