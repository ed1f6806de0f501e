package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mo-hossam-stack/slate/ext"
	"github.com/mo-hossam-stack/slate/run"
)

// meterName is the instrumentation scope name for slate observability.
const meterName = "github.com/mo-hossam-stack/slate/observability"

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.RunCreated      = (*MetricsExtension)(nil)
	_ ext.RunSuspended    = (*MetricsExtension)(nil)
	_ ext.RunResumed      = (*MetricsExtension)(nil)
	_ ext.StepCompleted   = (*MetricsExtension)(nil)
	_ ext.StepFailed      = (*MetricsExtension)(nil)
	_ ext.PublishRetrying = (*MetricsExtension)(nil)
	_ ext.RunCompleted    = (*MetricsExtension)(nil)
	_ ext.RunFailed       = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
// Register it as an extension to automatically track run creation rates,
// suspensions, step outcomes, retry counts, and terminal outcomes.
type MetricsExtension struct {
	runsCreated   metric.Int64Counter
	runsSuspended metric.Int64Counter
	runsResumed   metric.Int64Counter
	stepsTotal    metric.Int64Counter
	retries       metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsFailed    metric.Int64Counter
	runDuration   metric.Float64Histogram
	stepDuration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this variant to inject a test MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.runsCreated, _ = meter.Int64Counter("slate.runs.created",
		metric.WithDescription("Total publication runs created"),
		metric.WithUnit("{run}"))
	m.runsSuspended, _ = meter.Int64Counter("slate.runs.suspended",
		metric.WithDescription("Total run suspensions"),
		metric.WithUnit("{suspension}"))
	m.runsResumed, _ = meter.Int64Counter("slate.runs.resumed",
		metric.WithDescription("Total run resumptions"),
		metric.WithUnit("{resumption}"))
	m.stepsTotal, _ = meter.Int64Counter("slate.steps.total",
		metric.WithDescription("Total step executions by name and status"),
		metric.WithUnit("{step}"))
	m.retries, _ = meter.Int64Counter("slate.publish.retries",
		metric.WithDescription("Total publish retries scheduled"),
		metric.WithUnit("{retry}"))
	m.runsCompleted, _ = meter.Int64Counter("slate.runs.completed",
		metric.WithDescription("Total runs completed"),
		metric.WithUnit("{run}"))
	m.runsFailed, _ = meter.Int64Counter("slate.runs.failed",
		metric.WithDescription("Total runs failed by kind"),
		metric.WithUnit("{run}"))
	m.runDuration, _ = meter.Float64Histogram("slate.runs.duration",
		metric.WithDescription("Wall-clock run duration from trigger to terminal state"),
		metric.WithUnit("s"))
	m.stepDuration, _ = meter.Float64Histogram("slate.steps.duration",
		metric.WithDescription("Step execution duration"),
		metric.WithUnit("s"))

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnRunCreated implements ext.RunCreated.
func (m *MetricsExtension) OnRunCreated(ctx context.Context, _ *run.Run) error {
	m.runsCreated.Add(ctx, 1)
	return nil
}

// OnRunSuspended implements ext.RunSuspended.
func (m *MetricsExtension) OnRunSuspended(ctx context.Context, _ *run.Run, _ time.Time) error {
	m.runsSuspended.Add(ctx, 1)
	return nil
}

// OnRunResumed implements ext.RunResumed.
func (m *MetricsExtension) OnRunResumed(ctx context.Context, _ *run.Run) error {
	m.runsResumed.Add(ctx, 1)
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, _ *run.Run, stepName string, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("step", stepName),
		attribute.String("status", "ok"),
	)
	m.stepsTotal.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, _ *run.Run, stepName string, _ error) error {
	m.stepsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", stepName),
		attribute.String("status", "error"),
	))
	return nil
}

// OnPublishRetrying implements ext.PublishRetrying.
func (m *MetricsExtension) OnPublishRetrying(ctx context.Context, _ *run.Run, attempt int, _ time.Time) error {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempt", attempt),
	))
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, _ *run.Run, elapsed time.Duration) error {
	m.runsCompleted.Add(ctx, 1)
	m.runDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("outcome", "completed"),
	))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *run.Run, _ error) error {
	m.runsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(r.FailureKind)),
	))
	return nil
}
