// Package dispatcher drives suspended runs back into the executor.
//
// Suspended runs cost nothing while they wait; the dispatcher's workers
// poll the store for runs whose resume deadline has passed, claim them,
// and hand them to the executor. Claimed runs are heartbeated, and a
// reaper returns runs claimed by crashed workers to the due set.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mo-hossam-stack/slate"
	"github.com/mo-hossam-stack/slate/id"
	"github.com/mo-hossam-stack/slate/middleware"
	"github.com/mo-hossam-stack/slate/run"
)

// Resumer resumes a claimed, due run. Satisfied by *executor.Runner.
type Resumer interface {
	Resume(ctx context.Context, r *run.Run) error
}

// Limiter gates publish work per item owner. The dispatcher calls
// Acquire before resuming a claimed run and Release afterwards.
// Satisfied by *limiter.Manager.
type Limiter interface {
	Acquire(ownerID string) bool
	Release(ownerID string)
}

// Dispatcher manages a set of worker goroutines that claim due runs
// and resume them.
type Dispatcher struct {
	store   run.Store
	resumer Resumer
	limiter Limiter
	mw      middleware.Middleware

	concurrency         int
	pollInterval        time.Duration
	heartbeatInterval   time.Duration
	staleClaimThreshold time.Duration

	workerID id.WorkerID
	logger   *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) { d.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for due runs.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.pollInterval = interval }
}

// WithHeartbeatInterval sets how often claimed runs are heartbeated.
// A zero value disables heartbeats.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.heartbeatInterval = interval }
}

// WithStaleClaimThreshold sets how long a claimed run may go without a
// heartbeat before the reaper returns it to the due set. A zero value
// disables reaping.
func WithStaleClaimThreshold(threshold time.Duration) Option {
	return func(d *Dispatcher) { d.staleClaimThreshold = threshold }
}

// WithLimiter sets the per-owner limiter consulted before each resume.
func WithLimiter(l Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithMiddleware wraps every resume in the given middleware chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) { d.mw = middleware.Chain(mws...) }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher.
func New(store run.Store, resumer Resumer, opts ...Option) *Dispatcher {
	cfg := slate.DefaultConfig()
	d := &Dispatcher{
		store:               store,
		resumer:             resumer,
		concurrency:         cfg.Concurrency,
		pollInterval:        cfg.PollInterval,
		heartbeatInterval:   cfg.HeartbeatInterval,
		staleClaimThreshold: cfg.StaleClaimThreshold,
		workerID:            id.NewWorkerID(),
		logger:              slog.Default(),
		stopCh:              make(chan struct{}),
		active:              make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WorkerID returns the dispatcher's unique worker identifier.
func (d *Dispatcher) WorkerID() id.WorkerID { return d.workerID }

// Start launches the worker goroutines. It returns immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	d.running = true

	d.logger.Info("dispatcher starting",
		slog.String("worker_id", d.workerID.String()),
		slog.Int("concurrency", d.concurrency),
	)

	for range d.concurrency {
		d.wg.Add(1)
		go d.dispatchLoop()
	}

	if d.heartbeatInterval > 0 {
		d.wg.Add(1)
		go d.heartbeatLoop()
	}

	if d.staleClaimThreshold > 0 {
		d.wg.Add(1)
		go d.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, in-flight resumes are cancelled when
// time runs out.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info("dispatcher stopping", slog.String("worker_id", d.workerID.String()))

	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped gracefully")
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out, cancelling active runs")
		d.cancelActive()
		d.wg.Wait()
	}

	return nil
}

// dispatchLoop is run by each worker goroutine.
func (d *Dispatcher) dispatchLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		runs, err := d.store.ClaimDue(context.Background(), d.workerID, time.Now().UTC(), 1)
		if err != nil {
			d.logger.Error("claim error", slog.String("error", err.Error()))
			d.sleep()
			continue
		}

		if len(runs) == 0 {
			d.sleep()
			continue
		}

		d.dispatch(runs[0])
	}
}

// dispatch resumes one claimed run through the middleware chain.
func (d *Dispatcher) dispatch(r *run.Run) {
	if d.limiter != nil && !d.limiter.Acquire(r.OwnerID) {
		d.deferRun(r)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.trackRun(r.Key, cancel)

	handler := func(ctx context.Context) error {
		return d.resumer.Resume(ctx, r)
	}
	var err error
	if d.mw != nil {
		err = d.mw(ctx, r, handler)
	} else {
		err = handler(ctx)
	}
	if err != nil {
		d.logger.Debug("resume returned error",
			slog.String("run_key", r.Key),
			slog.String("error", err.Error()),
		)
	}

	d.untrackRun(r.Key)
	cancel()

	if d.limiter != nil {
		d.limiter.Release(r.OwnerID)
	}

	if releaseErr := d.store.ReleaseRun(context.Background(), r.Key, d.workerID); releaseErr != nil {
		d.logger.Warn("release failed",
			slog.String("run_key", r.Key),
			slog.String("error", releaseErr.Error()),
		)
	}
}

// deferRun returns a rate-limited run to the due set with a small delay
// instead of dropping it.
func (d *Dispatcher) deferRun(r *run.Run) {
	r.ResumeAt = time.Now().UTC().Add(d.pollInterval)
	r.Touch()
	if err := d.store.UpdateRun(context.Background(), r); err != nil {
		d.logger.Error("failed to defer rate-limited run",
			slog.String("run_key", r.Key),
			slog.String("error", err.Error()),
		)
	}
	if err := d.store.ReleaseRun(context.Background(), r.Key, d.workerID); err != nil {
		d.logger.Warn("release failed",
			slog.String("run_key", r.Key),
			slog.String("error", err.Error()),
		)
	}
	d.sleep()
}

// heartbeatLoop periodically heartbeats all claimed runs.
func (d *Dispatcher) heartbeatLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.sendHeartbeats()
		}
	}
}

func (d *Dispatcher) sendHeartbeats() {
	d.activeMu.Lock()
	keys := make([]string, 0, len(d.active))
	for key := range d.active {
		keys = append(keys, key)
	}
	d.activeMu.Unlock()

	for _, key := range keys {
		if err := d.store.HeartbeatRun(context.Background(), key, d.workerID); err != nil {
			d.logger.Warn("heartbeat failed",
				slog.String("run_key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically returns stale-claimed runs to the due set.
func (d *Dispatcher) reaperLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.staleClaimThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.reapStaleClaims()
		}
	}
}

func (d *Dispatcher) reapStaleClaims() {
	// The store clears the claim; the run becomes claimable again on
	// the next poll.
	reaped, err := d.store.ReapStaleClaims(context.Background(), d.staleClaimThreshold)
	if err != nil {
		d.logger.Error("reap error", slog.String("error", err.Error()))
		return
	}
	for _, r := range reaped {
		d.logger.Info("reaped stale claim",
			slog.String("run_key", r.Key),
			slog.String("item_id", r.ItemID),
		)
	}
}

func (d *Dispatcher) sleep() {
	select {
	case <-time.After(d.pollInterval):
	case <-d.stopCh:
	}
}

func (d *Dispatcher) trackRun(key string, cancel context.CancelFunc) {
	d.activeMu.Lock()
	d.active[key] = cancel
	d.activeMu.Unlock()
}

func (d *Dispatcher) untrackRun(key string) {
	d.activeMu.Lock()
	delete(d.active, key)
	d.activeMu.Unlock()
}

func (d *Dispatcher) cancelActive() {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	for key, cancel := range d.active {
		d.logger.Warn("cancelling active run", slog.String("run_key", key))
		cancel()
	}
}
