package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/api"
	"github.com/mo-hossam-stack/slate/backoff"
	"github.com/mo-hossam-stack/slate/credential"
	"github.com/mo-hossam-stack/slate/dispatcher"
	"github.com/mo-hossam-stack/slate/executor"
	"github.com/mo-hossam-stack/slate/ext"
	"github.com/mo-hossam-stack/slate/intake"
	"github.com/mo-hossam-stack/slate/journal"
	"github.com/mo-hossam-stack/slate/limiter"
	mw "github.com/mo-hossam-stack/slate/middleware"
	"github.com/mo-hossam-stack/slate/observability"
	"github.com/mo-hossam-stack/slate/publisher"
	"github.com/mo-hossam-stack/slate/run"
	"github.com/mo-hossam-stack/slate/schedule"
	"github.com/mo-hossam-stack/slate/store"
)

// Engine wires the intake, executor, dispatcher, and HTTP API over one
// store. Use [Build] to create one.
type Engine struct {
	store   store.Store
	adapter publisher.Adapter
	creds   credential.Provider

	cfg    slate.Config
	logger *slog.Logger

	registry   *ext.Registry
	runner     *executor.Runner
	intake     *intake.Intake
	dispatcher *dispatcher.Dispatcher
	planner    *schedule.Planner
	apiServer  *api.Server

	// Optional subsystems.
	limiter    *limiter.Manager
	limiterCfg *limiter.Config
	policy     *backoff.Policy
	httpAddr   string

	// User-supplied additions.
	extraExts []ext.Extension
	extraMws  []mw.Middleware
	slotPlans []schedule.Plan

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg slate.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the engine's logger, shared by all subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extraExts = append(eng.extraExts, e) }
}

// WithMiddleware appends middleware to the resume chain, after the
// built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.extraMws = append(eng.extraMws, m) }
}

// WithBackoffPolicy sets the publish retry policy.
// If not set, backoff.DefaultPolicy() is used.
func WithBackoffPolicy(p backoff.Policy) Option {
	return func(eng *Engine) { eng.policy = &p }
}

// WithLimiter enables per-owner rate limiting and concurrency control.
func WithLimiter(cfg limiter.Config) Option {
	return func(eng *Engine) { eng.limiterCfg = &cfg }
}

// WithSlotPlan registers per-owner posting slot plans consulted for
// items without an explicit scheduled time.
func WithSlotPlan(plans ...schedule.Plan) Option {
	return func(eng *Engine) { eng.slotPlans = append(eng.slotPlans, plans...) }
}

// WithHTTPAddr sets the listen address for the HTTP API. Without it,
// Run drives only the dispatcher and the API is available via
// [Engine.Handler] for external mounting.
func WithHTTPAddr(addr string) Option {
	return func(eng *Engine) { eng.httpAddr = addr }
}

// WithTracerProvider sets a custom OTel TracerProvider.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider, used by both the
// metrics middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build assembles an Engine over the given store, publisher adapter,
// and credential provider.
func Build(
	st store.Store,
	adapter publisher.Adapter,
	creds credential.Provider,
	opts ...Option,
) (*Engine, error) {
	if st == nil {
		return nil, slate.ErrNoStore
	}
	if adapter == nil {
		return nil, errors.New("engine: nil publisher adapter")
	}
	if creds == nil {
		return nil, errors.New("engine: nil credential provider")
	}

	eng := &Engine{
		store:   st,
		adapter: adapter,
		creds:   creds,
		cfg:     slate.DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.registry = ext.NewRegistry(eng.logger)

	// Observability extension (custom meter provider or global).
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/mo-hossam-stack/slate/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.registry.Register(obsExt)

	// The run journal rides the same store.
	eng.registry.Register(journal.New(st, journal.WithLogger(eng.logger)))

	for _, e := range eng.extraExts {
		eng.registry.Register(e)
	}

	policy := backoff.DefaultPolicy()
	if eng.policy != nil {
		policy = *eng.policy
	}

	eng.runner = executor.NewRunner(st, st, creds, adapter, eng.registry,
		executor.WithLogger(eng.logger),
		executor.WithBackoffPolicy(policy),
		executor.WithPublishTimeout(eng.cfg.PublishTimeout),
		executor.WithMinContentLength(eng.cfg.MinContentLength),
	)

	eng.planner = schedule.NewPlanner()
	for _, plan := range eng.slotPlans {
		if err := eng.planner.SetPlan(plan); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	eng.intake = intake.New(st, st, creds, eng.runner, eng.registry,
		intake.WithLogger(eng.logger),
		intake.WithPlanner(eng.planner),
		intake.WithMinContentLength(eng.cfg.MinContentLength),
	)

	// Built-in middleware stack around every resume.
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/mo-hossam-stack/slate"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/mo-hossam-stack/slate"))
	} else {
		metricsMw = mw.Metrics()
	}
	mws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	}
	mws = append(mws, eng.extraMws...)

	dispOpts := []dispatcher.Option{
		dispatcher.WithConcurrency(eng.cfg.Concurrency),
		dispatcher.WithPollInterval(eng.cfg.PollInterval),
		dispatcher.WithHeartbeatInterval(eng.cfg.HeartbeatInterval),
		dispatcher.WithStaleClaimThreshold(eng.cfg.StaleClaimThreshold),
		dispatcher.WithMiddleware(mws...),
		dispatcher.WithLogger(eng.logger),
	}
	if eng.limiterCfg != nil {
		eng.limiter = limiter.NewManager(*eng.limiterCfg)
		dispOpts = append(dispOpts, dispatcher.WithLimiter(eng.limiter))
	}
	eng.dispatcher = dispatcher.New(st, eng.runner, dispOpts...)

	eng.apiServer = api.New(eng.intake, st, st, api.WithLogger(eng.logger))

	return eng, nil
}

// Trigger creates or dedupes a publication run for an item.
func (eng *Engine) Trigger(ctx context.Context, itemID string, scheduledAt *time.Time) (*run.Run, error) {
	return eng.intake.Trigger(ctx, itemID, scheduledAt)
}

// Start migrates the store and launches the dispatcher. Runs suspended
// before a restart need no special recovery; their resume deadlines are
// persisted and the dispatcher picks them up as they come due.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("engine: migrate store: %w", err)
	}
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("engine: ping store: %w", err)
	}
	return eng.dispatcher.Start(ctx)
}

// Stop gracefully shuts the engine down: the dispatcher drains, the
// shutdown hook fires, and the store closes.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.dispatcher.Stop(ctx); err != nil {
		return err
	}
	eng.registry.EmitShutdown(ctx)
	if err := eng.store.Close(); err != nil {
		eng.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
	return nil
}

// Run starts the engine and blocks until ctx is cancelled, then shuts
// down within the configured shutdown timeout. When an HTTP address is
// configured the API server runs alongside the dispatcher.
func (eng *Engine) Run(ctx context.Context) error {
	if err := eng.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if eng.httpAddr != "" {
		srv = &http.Server{Addr: eng.httpAddr, Handler: eng.apiServer}
		g.Go(func() error {
			eng.logger.Info("api listening", slog.String("addr", eng.httpAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), eng.cfg.ShutdownTimeout)
		defer cancel()
		if srv != nil {
			if err := srv.Shutdown(stopCtx); err != nil {
				eng.logger.Warn("api shutdown error", slog.String("error", err.Error()))
			}
		}
		return eng.Stop(stopCtx)
	})

	return g.Wait()
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.registry }

// Intake returns the trigger intake.
func (eng *Engine) Intake() *intake.Intake { return eng.intake }

// Runner returns the run executor.
func (eng *Engine) Runner() *executor.Runner { return eng.runner }

// Dispatcher returns the dispatcher.
func (eng *Engine) Dispatcher() *dispatcher.Dispatcher { return eng.dispatcher }

// Planner returns the slot planner.
func (eng *Engine) Planner() *schedule.Planner { return eng.planner }

// Limiter returns the owner limiter, or nil if none was configured.
func (eng *Engine) Limiter() *limiter.Manager { return eng.limiter }

// Store returns the underlying store.
func (eng *Engine) Store() store.Store { return eng.store }

// Handler returns the HTTP API as an http.Handler for mounting into an
// external server.
func (eng *Engine) Handler() http.Handler { return eng.apiServer }
