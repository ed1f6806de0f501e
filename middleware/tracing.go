package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mo-hossam-stack/slate/run"
)

// tracerName is the instrumentation scope name for slate tracing.
const tracerName = "github.com/mo-hossam-stack/slate"

// Tracing returns middleware that wraps run execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: slate.run.key, slate.run.item_id, slate.run.state,
// slate.run.attempt. On error, the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		ctx, span := tracer.Start(ctx, "slate.run.execute",
			trace.WithAttributes(
				attribute.String("slate.run.key", r.Key),
				attribute.String("slate.run.item_id", r.ItemID),
				attribute.String("slate.run.state", string(r.State)),
				attribute.Int("slate.run.attempt", r.AttemptCount),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
