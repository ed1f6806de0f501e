package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mo-hossam-stack/slate/run"
)

// meterName is the instrumentation scope name for slate metrics.
const meterName = "github.com/mo-hossam-stack/slate"

// Metrics returns middleware that records per-run execution metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - slate.run.duration (Float64Histogram): execution time in seconds,
//     with attributes: state, status ("ok" or "error")
//   - slate.run.executions (Int64Counter): total executions,
//     with attributes: state, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"slate.run.duration",
		metric.WithDescription("Duration of run execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"slate.run.executions",
		metric.WithDescription("Total number of run executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, r *run.Run, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("state", string(r.State)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
