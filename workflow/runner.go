package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRunTimeout is used when a definition declares no timeout.
const DefaultRunTimeout = 10 * time.Minute

// EngineDefaults are runner-wide fallbacks applied when a definition or
// a MapStep call does not specify its own value. Zero fields keep the
// built-in defaults.
type EngineDefaults struct {
	// RunTimeout is the wall-clock deadline for definitions with no
	// timeout of their own.
	RunTimeout time.Duration
	// MapConcurrency is the fan-out cap for MapOptions with Concurrency 0.
	MapConcurrency int
	// MapMaxAttempts is the per-item attempt count for MapOptions with
	// MaxAttempts 0.
	MapMaxAttempts int
}

// Runner owns the workflow run lifecycle: input validation, run
// creation, handler execution under a wall-clock deadline, cooperative
// cancellation, and crash recovery via Resume.
type Runner struct {
	registry *Registry
	store    Store
	emitter  RunEmitter
	logger   *zap.Logger
	defaults EngineDefaults

	mu      sync.Mutex
	waiters map[uuid.UUID]chan struct{}
}

// NewRunner creates a workflow runner. emitter may be nil.
func NewRunner(registry *Registry, store Store, emitter RunEmitter, logger *zap.Logger) *Runner {
	if emitter == nil {
		emitter = nopRunEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		registry: registry,
		store:    store,
		emitter:  emitter,
		logger:   logger.With(zap.String("component", "workflow_runner")),
		waiters:  make(map[uuid.UUID]chan struct{}),
	}
}

type nopRunEmitter struct{ nopEmitter }

// SetDefaults installs runner-wide fallbacks, typically from config.
// Call before Start; the runner does not synchronize this field.
func (r *Runner) SetDefaults(d EngineDefaults) { r.defaults = d }

// Registry returns the runner's workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Store returns the runner's backing store.
func (r *Runner) Store() Store { return r.store }

// Handle is the caller-facing view of a started run. Status and output
// are read live from the store, so they reflect the current run state.
type Handle struct {
	runner *Runner
	runID  uuid.UUID
	done   <-chan struct{}
}

// ID returns the run ID.
func (h *Handle) ID() uuid.UUID { return h.runID }

// Get returns the current run record.
func (h *Handle) Get(ctx context.Context) (*Run, error) {
	return h.runner.store.GetRun(ctx, h.runID)
}

// Cancel requests cooperative cancellation of the run.
func (h *Handle) Cancel(ctx context.Context) error {
	return h.runner.Cancel(ctx, h.runID)
}

// Wait blocks until the run reaches a terminal state (in this process)
// or the context is done, and returns the final run record.
func (h *Handle) Wait(ctx context.Context) (*Run, error) {
	select {
	case <-h.done:
		return h.runner.store.GetRun(ctx, h.runID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start validates the input, creates a run record, and executes the
// workflow handler in a background goroutine. The handler runs on a
// context detached from ctx so an aborted HTTP request does not kill
// the run; only the run's own deadline and cancellation apply.
func (r *Runner) Start(ctx context.Context, name string, input json.RawMessage) (*Handle, error) {
	def, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}

	if def.ValidateInput != nil {
		if err := def.ValidateInput(input); err != nil {
			return nil, err
		}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.defaults.RunTimeout
	}
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	now := time.Now().UTC()
	run := &Run{
		ID:           uuid.New(),
		WorkflowName: name,
		Status:       RunStatusRunning,
		Input:        input,
		StartedAt:    now,
		TimeoutAt:    now.Add(timeout),
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", name, err)
	}

	r.emitter.RunStarted(run)

	done := make(chan struct{})
	r.mu.Lock()
	r.waiters[run.ID] = done
	r.mu.Unlock()

	go func() {
		defer func() {
			close(done)
			r.mu.Lock()
			delete(r.waiters, run.ID)
			r.mu.Unlock()
		}()
		r.executeRun(context.WithoutCancel(ctx), run, def)
	}()

	return &Handle{runner: r, runID: run.ID, done: done}, nil
}

// Cancel requests cooperative cancellation. The request is persisted and
// observed at the run's next step boundary; an in-flight step body is not
// interrupted. Cancelling a terminal run is a no-op.
func (r *Runner) Cancel(ctx context.Context, runID uuid.UUID) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() || run.CancelRequested {
		return nil
	}

	run.CancelRequested = true
	if err := r.store.UpdateRun(ctx, run); err != nil {
		// The run finished between our read and the write; nothing to
		// cancel anymore.
		if errors.Is(err, ErrRunTerminal) {
			return nil
		}
		return fmt.Errorf("persist cancel request for run %s: %w", runID, err)
	}

	r.logger.Info("cancel requested",
		zap.String("run_id", runID.String()),
		zap.String("workflow", run.WorkflowName),
	)
	return nil
}

// Resume re-executes the handler of a run left in the running state
// (crash recovery). Checkpointed steps replay without re-executing their
// bodies, so execution continues at the first incomplete step.
func (r *Runner) Resume(ctx context.Context, runID uuid.UUID) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.Status != RunStatusRunning {
		return fmt.Errorf("%w: run %s is %s", ErrRunNotResumable, runID, run.Status)
	}

	def, ok := r.registry.Get(run.WorkflowName)
	if !ok {
		return fmt.Errorf("%w: %s (run %s)", ErrWorkflowNotFound, run.WorkflowName, runID)
	}

	r.executeRun(ctx, run, def)
	return nil
}

// ResumeAll resumes every run left in the running state.
// Called once at startup for crash recovery.
func (r *Runner) ResumeAll(ctx context.Context) error {
	runs, err := r.store.ListRuns(ctx, RunFilter{Status: RunStatusRunning})
	if err != nil {
		return fmt.Errorf("list running workflow runs: %w", err)
	}

	for _, run := range runs {
		r.logger.Info("resuming workflow run",
			zap.String("run_id", run.ID.String()),
			zap.String("workflow", run.WorkflowName),
		)
		if resumeErr := r.Resume(ctx, run.ID); resumeErr != nil {
			r.logger.Error("failed to resume workflow run",
				zap.String("run_id", run.ID.String()),
				zap.Error(resumeErr),
			)
		}
	}
	return nil
}

// executeRun invokes the handler under the run's wall-clock deadline and
// records exactly one terminal transition.
func (r *Runner) executeRun(ctx context.Context, run *Run, def *Definition) {
	rctx, cancel := context.WithDeadline(ctx, run.TimeoutAt)
	defer cancel()

	start := time.Now()
	wf := NewWorkflowContext(rctx, run, r.store, r.emitter, r.logger)
	wf.defaults = r.defaults

	output, err := def.Handler(wf, run.Input)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	run.CompletedAt = &now

	if err == nil && def.ValidateOutput != nil {
		if vErr := def.ValidateOutput(output); vErr != nil {
			err = fmt.Errorf("output validation: %w", vErr)
		}
	}

	switch {
	case err == nil:
		run.Status = RunStatusCompleted
		run.Output = output
	case errors.Is(err, ErrRunCancelled):
		run.Status = RunStatusCancelled
	case errors.Is(err, context.DeadlineExceeded) || rctx.Err() == context.DeadlineExceeded:
		run.Status = RunStatusTimedOut
		run.Error = "workflow timed out"
	default:
		run.Status = RunStatusFailed
		run.Error = err.Error()
	}

	if updateErr := r.store.UpdateRun(ctx, run); updateErr != nil {
		if errors.Is(updateErr, ErrRunTerminal) {
			// Another process already finished this run (duplicate resume).
			r.logger.Warn("run already finished by another writer",
				zap.String("run_id", run.ID.String()),
			)
		} else {
			r.logger.Error("failed to persist terminal run state",
				zap.String("run_id", run.ID.String()),
				zap.String("status", string(run.Status)),
				zap.Error(updateErr),
			)
		}
	}

	r.emitter.RunFinished(run, elapsed)

	r.logger.Info("workflow run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("workflow", run.WorkflowName),
		zap.String("status", string(run.Status)),
		zap.Duration("elapsed", elapsed),
	)
}
