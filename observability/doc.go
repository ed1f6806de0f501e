// Package observability provides a metrics extension that tracks run
// lifecycle events through OpenTelemetry.
//
// Register [MetricsExtension] on the engine to count run creations,
// suspensions, resumptions, step outcomes, publish retries, and terminal
// states, plus duration histograms for runs and steps.
//
//	eng, err := engine.Build(store, adapter, creds,
//	    engine.WithExtensions(observability.NewMetricsExtension()),
//	)
//
// All instruments come from the global MeterProvider; without one
// configured they are noops with negligible overhead.
package observability
