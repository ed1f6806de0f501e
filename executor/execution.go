package executor

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	"github.com/mo-hossam-stack/slate/id"
	"github.com/mo-hossam-stack/slate/run"
)

// StepEmitter is called by the Execution to emit step lifecycle events.
// This interface is satisfied by ext.Registry; defining it here breaks
// the import cycle between executor and ext.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, r *run.Run, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, r *run.Run, stepName string, err error)
}

// Execution is the step execution context for one run. It provides
// durable, memoized step execution against the step ledger: once a step
// is recorded as succeeded, re-driving the run returns the stored value
// without re-invoking the step's side effects.
type Execution struct {
	ctx     context.Context
	run     *run.Run
	store   run.Store
	emitter StepEmitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewExecution creates an Execution for a run. This is called by the
// Runner, not by users.
func NewExecution(
	ctx context.Context,
	r *run.Run,
	store run.Store,
	emitter StepEmitter,
	logger *slog.Logger,
) *Execution {
	if logger == nil {
		logger = slog.Default()
	}
	return &Execution{
		ctx:     ctx,
		run:     r,
		store:   store,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
	}
}

// Context returns the underlying context.Context.
func (e *Execution) Context() context.Context { return e.ctx }

// Run returns the run being executed.
func (e *Execution) Run() *run.Run { return e.run }

// Step executes a named step function. If a succeeded ledger record
// exists for this step name, the step is skipped (idempotent replay).
// Otherwise the function is executed and a record is saved on success.
// Failed executions leave no record, so a later re-drive re-executes
// the step.
func (e *Execution) Step(name string, fn func(ctx context.Context) error) error {
	rec, err := e.store.GetStep(e.ctx, e.run.Key, name)
	if err != nil {
		return fmt.Errorf("run %s: get step %q: %w", e.run.Key, name, err)
	}
	if rec != nil && rec.Status == run.StepSucceeded {
		e.logger.Debug("skipping recorded step",
			slog.String("run_key", e.run.Key),
			slog.String("step", name),
		)
		return nil
	}

	start := e.now()
	stepErr := fn(e.ctx)
	elapsed := e.now().Sub(start)

	if stepErr != nil {
		e.emitter.EmitStepFailed(e.ctx, e.run, name, stepErr)
		return fmt.Errorf("run %s step %q: %w", e.run.Key, name, stepErr)
	}

	if saveErr := e.save(name, []byte{}); saveErr != nil {
		return saveErr
	}

	e.emitter.EmitStepCompleted(e.ctx, e.run, name, elapsed)
	return nil
}

// StepWithResult executes a named step that returns a typed value.
// The result is serialized via encoding/gob and saved in the ledger.
// On replay, the stored result is deserialized and returned without
// re-executing the step function.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepWithResult[T any](e *Execution, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	rec, err := e.store.GetStep(e.ctx, e.run.Key, name)
	if err != nil {
		return zero, fmt.Errorf("run %s: get step %q: %w", e.run.Key, name, err)
	}
	if rec != nil && rec.Status == run.StepSucceeded {
		var result T
		dec := gob.NewDecoder(bytes.NewReader(rec.Value))
		if decErr := dec.Decode(&result); decErr != nil {
			return zero, fmt.Errorf("run %s: decode step %q: %w", e.run.Key, name, decErr)
		}
		e.logger.Debug("returning recorded step result",
			slog.String("run_key", e.run.Key),
			slog.String("step", name),
		)
		return result, nil
	}

	start := e.now()
	result, stepErr := fn(e.ctx)
	elapsed := e.now().Sub(start)

	if stepErr != nil {
		e.emitter.EmitStepFailed(e.ctx, e.run, name, stepErr)
		return zero, fmt.Errorf("run %s step %q: %w", e.run.Key, name, stepErr)
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if encErr := enc.Encode(result); encErr != nil {
		return zero, fmt.Errorf("run %s: encode step %q: %w", e.run.Key, name, encErr)
	}

	if saveErr := e.save(name, buf.Bytes()); saveErr != nil {
		return zero, saveErr
	}

	e.emitter.EmitStepCompleted(e.ctx, e.run, name, elapsed)
	return result, nil
}

// save writes a succeeded record. SaveStep is first-write-wins, so if a
// concurrent driver beat us here the stored record is kept and ours is
// discarded.
func (e *Execution) save(name string, value []byte) error {
	rec := &run.StepRecord{
		ID:         id.NewStepID(),
		RunKey:     e.run.Key,
		StepName:   name,
		Status:     run.StepSucceeded,
		Value:      value,
		RecordedAt: e.now().UTC(),
	}
	if err := e.store.SaveStep(e.ctx, rec); err != nil {
		return fmt.Errorf("run %s: save step %q: %w", e.run.Key, name, err)
	}
	return nil
}
