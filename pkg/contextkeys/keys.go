// Package contextkeys provides centralized context key definitions
//
// All context keys used across lectern are defined here so that producers and
// consumers agree on names and value types.
//
//	ctx = auth.WithPrincipal(ctx, principal)
//	principal, ok := auth.PrincipalFromContext(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: every handler in pkg/api except payment callbacks
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: observability.RequestMiddleware
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger scoped to the request
	// Set by: observability.RequestMiddleware
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains the request start time.Time
	// Set by: observability.RequestMiddleware
	RequestStartTimeKey Key = "request_start_time"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime interface{}) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
