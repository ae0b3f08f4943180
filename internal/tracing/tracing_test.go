package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestStartAndEndWithoutProvider(t *testing.T) {
	ctx, span := Start(context.Background(), "test.span", Tenant("acme"))
	if !trace.SpanFromContext(ctx).SpanContext().Equal(span.SpanContext()) {
		t.Fatal("expected span to be stored in context")
	}
	End(span, errors.New("boom"))
	End(nil, nil)
}
