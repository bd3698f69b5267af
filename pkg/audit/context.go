package audit

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	actorKey   contextKey = "audit_actor"
	reasonKey  contextKey = "audit_reason"
	traceIDKey contextKey = "audit_trace_id"
)

// WithActor records who is making the changes committed with ctx
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the actor stored by WithActor
func ActorFrom(ctx context.Context) string {
	v, _ := ctx.Value(actorKey).(string)
	return v
}

// WithReason records why the changes committed with ctx are being made
func WithReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, reasonKey, reason)
}

// ReasonFrom returns the reason stored by WithReason
func ReasonFrom(ctx context.Context) string {
	v, _ := ctx.Value(reasonKey).(string)
	return v
}

// WithTraceID sets an explicit correlation ID for entries committed with ctx
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceIDFrom returns the ID stored by WithTraceID, falling back to the
// active OpenTelemetry trace.
func TraceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		return v
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
