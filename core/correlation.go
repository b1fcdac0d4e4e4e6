package core

import "context"

type correlationKey struct{ name string }

var (
	requestIDKey = correlationKey{"request-id"}
	traceIDKey   = correlationKey{"trace-id"}
)

// WithRequestID stores the request id that log lines of a run are correlated by.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTraceID stores an external trace id (for example an inbound x-b3-trace-id).
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID returns the external trace id carried by ctx.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
