// Package tracing wraps the global OpenTelemetry tracer used by the ingest and query
// paths. Spans are no-ops until a tracer provider is installed with otel.SetTracerProvider.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/raymccarthy5/multi-tenant-analytics")

// Start opens an internal span named name.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// End completes a span, recording err when non-nil.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Tenant is the attribute attached to every tenant-scoped span.
func Tenant(tenantID string) attribute.KeyValue {
	return attribute.String("tenant.id", tenantID)
}
