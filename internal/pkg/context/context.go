// Package context carries the per-request trace id that ties HTTP
// access logs, audit events, and outbox rows together.
package context

import "context"

type traceIDKey struct{}

// Untraced marks work that did not enter through the HTTP layer
// (startup, background workers).
const Untraced = "untraced"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceID returns the trace id in ctx, or "" when none was set.
func TraceID(ctx context.Context) string {
	if s, ok := ctx.Value(traceIDKey{}).(string); ok {
		return s
	}
	return ""
}

// TraceIDOr returns the trace id in ctx, falling back to Untraced so
// downstream rows and events never carry an empty correlation key.
func TraceIDOr(ctx context.Context) string {
	if id := TraceID(ctx); id != "" {
		return id
	}
	return Untraced
}
