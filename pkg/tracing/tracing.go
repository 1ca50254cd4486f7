// Package tracing holds the process-wide tracer. Repositories, clients,
// and job handlers open spans through StartSpan; when no tracer is
// configured every call is a no-op.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer installs the tracer used by StartSpan. Called once at startup
// when tracing is enabled.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span, or returns the current span unchanged when
// tracing is disabled
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

func activeSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return span
}

// GetTraceID returns the active trace ID, or empty when not tracing. Log
// enrichment uses this to correlate lines with traces.
func GetTraceID(ctx context.Context) string {
	span := activeSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
