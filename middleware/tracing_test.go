package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/mo-hossam-stack/slate/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("test")
	return sr, tracer
}

func TestTracing_CreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	err := m(context.Background(), testRun(), func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Name() != "slate.run.execute" {
		t.Errorf("expected span name %q, got %q", "slate.run.execute", spans[0].Name())
	}
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	r := testRun()
	r.AttemptCount = 2

	_ = m(context.Background(), r, func(_ context.Context) error {
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := spans[0].Attributes()
	expected := map[string]interface{}{
		"slate.run.key":     r.Key,
		"slate.run.item_id": r.ItemID,
		"slate.run.state":   string(r.State),
		"slate.run.attempt": int64(2),
	}

	attrMap := make(map[string]interface{}, len(attrs))
	for _, a := range attrs {
		switch a.Value.Type() {
		case attribute.STRING:
			attrMap[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			attrMap[string(a.Key)] = a.Value.AsInt64()
		}
	}

	for key, want := range expected {
		got, ok := attrMap[key]
		if !ok {
			t.Errorf("missing attribute %q", key)
			continue
		}
		if got != want {
			t.Errorf("attribute %q = %v, want %v", key, got, want)
		}
	}
}

func TestTracing_Success_SetsOkStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	_ = m(context.Background(), testRun(), func(_ context.Context) error {
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}
}

func TestTracing_Error_SetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	handlerErr := errors.New("handler failed")
	err := m(context.Background(), testRun(), func(_ context.Context) error {
		return handlerErr
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}
	if spans[0].Status().Description != "handler failed" {
		t.Errorf("expected status description %q, got %q", "handler failed", spans[0].Status().Description)
	}

	// Verify error event was recorded.
	events := spans[0].Events()
	found := false
	for _, ev := range events {
		if ev.Name == "exception" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected 'exception' event to be recorded on span")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	var handlerSpanCtx trace.SpanContext
	_ = m(context.Background(), testRun(), func(ctx context.Context) error {
		handlerSpanCtx = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	// The handler should have received the span context from the middleware.
	if !handlerSpanCtx.IsValid() {
		t.Error("expected valid span context in handler, got invalid")
	}
	if handlerSpanCtx.TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("handler span context trace ID does not match middleware span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	// Calling Tracing() without a global provider should not panic.
	m := mw.Tracing()

	called := false
	err := m(context.Background(), testRun(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
