package observe

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer(tracerName).Start(context.Background(), "test-span")
	defer span.End()

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		t.Fatal("span context is not valid")
	}

	child, childSpan := StartSpan(ctx, "child")
	defer childSpan.End()
	if trace.SpanContextFromContext(child).TraceID() != sc.TraceID() {
		t.Error("child span must share the parent trace ID")
	}
}

func TestLogger_WithoutSpanReturnsDefault(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatal("Logger returned nil")
	}
}

func TestLogger_WithSpanIsEnriched(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer(tracerName).Start(context.Background(), "log-span")
	defer span.End()

	if Logger(ctx) == nil {
		t.Fatal("Logger returned nil for an active span")
	}
}
