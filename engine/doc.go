// Package engine wires all slate subsystems together: extension
// registry, intake, executor, dispatcher, limiter, and the HTTP API.
//
// The engine package exists because the root slate package defines
// Entity and the shared error set (imported by run, item, and the other
// subsystem packages) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	eng, err := engine.Build(pgStore, linkedinAdapter, credProvider,
//	    engine.WithConfig(cfg),
//	    engine.WithLimiter(limiter.Config{MaxConcurrency: 4, RateLimit: 1}),
//	    engine.WithSlotPlan(schedule.Plan{OwnerID: "acme", Expr: "0 9 * * 1-5"}),
//	    engine.WithHTTPAddr(":8080"),
//	)
//
// # Triggering
//
//	r, err := eng.Trigger(ctx, "item-42", nil)
//
// # Running
//
//	// Blocks until ctx is cancelled, then drains gracefully.
//	err := eng.Run(ctx)
//
// # Options
//
//   - [WithConfig] sets engine-wide configuration
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] appends middleware to the resume chain
//   - [WithBackoffPolicy] sets the publish retry policy
//   - [WithLimiter] enables per-owner rate limiting
//   - [WithSlotPlan] registers posting slot plans
//   - [WithHTTPAddr] serves the HTTP API alongside the dispatcher
//   - [WithTracerProvider] and [WithMeterProvider] set the OpenTelemetry providers
package engine
