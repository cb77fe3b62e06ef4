// Package requestctx carries the per-request correlation ID through a
// context.Context, so log lines emitted below the HTTP layer can be tied
// back to the request that caused them.
package requestctx

import "context"

type contextKey struct{}

// WithRequestID returns a child context carrying the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// RequestID returns the request ID carried by ctx, or "" when none is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
