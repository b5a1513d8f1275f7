package core

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID retrieves the request ID from context, or "" when none was set.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateRequestID returns a random (v4) UUID string.
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithNewRequestID adds a freshly generated request ID to the context and returns both.
func WithNewRequestID(ctx context.Context) (context.Context, string) {
	id := GenerateRequestID()
	return WithRequestID(ctx, id), id
}
