package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/BaSui01/stepflow/workflow"

// Workflow is the execution context handed to a workflow handler.
// It provides the durable step primitives; all checkpoint state lives
// in the Store, so a handler replayed after a crash observes the same
// results without re-running completed step bodies.
type Workflow struct {
	ctx      context.Context
	run      *Run
	store    Store
	emitter  StepEmitter
	logger   *zap.Logger
	tracer   trace.Tracer
	defaults EngineDefaults
}

// NewWorkflowContext builds a Workflow execution context.
// Used by the Runner; exposed for tests that drive steps directly.
func NewWorkflowContext(ctx context.Context, run *Run, store Store, emitter StepEmitter, logger *zap.Logger) *Workflow {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		ctx:     ctx,
		run:     run,
		store:   store,
		emitter: emitter,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Context returns the run-scoped context. It carries the run's
// wall-clock deadline and is cancelled when the run is force-terminated.
func (wf *Workflow) Context() context.Context { return wf.ctx }

// RunID returns the ID of the underlying run.
func (wf *Workflow) RunID() string { return wf.run.ID.String() }

// checkBoundary is evaluated before every step. It observes out-of-band
// cancel requests (cooperative, step-granularity) and the run deadline.
func (wf *Workflow) checkBoundary() error {
	select {
	case <-wf.ctx.Done():
		return wf.ctx.Err()
	default:
	}

	// Reload the run so a cancel requested from another process (or the
	// HTTP surface) is observed at the next boundary.
	run, err := wf.store.GetRun(wf.ctx, wf.run.ID)
	if err != nil {
		return fmt.Errorf("check run %s: %w", wf.run.ID, err)
	}
	if run.CancelRequested || run.Status == RunStatusCancelled {
		return ErrRunCancelled
	}
	return nil
}

// Step executes a named step with no result value. If a checkpoint
// exists for the step name, the body is skipped entirely.
func (wf *Workflow) Step(name string, fn func(ctx context.Context) error) error {
	_, err := StepResult(wf, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// StepResult executes a named step that returns a typed value. On first
// execution the result is JSON-serialized and persisted as a checkpoint;
// on any later call with the same name, including after a process
// restart, the persisted result is returned without invoking fn.
//
// Package-level generic function because Go does not allow generic
// methods on non-generic receiver types.
func StepResult[T any](wf *Workflow, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := wf.checkBoundary(); err != nil {
		return zero, err
	}

	// Replay case: return the checkpointed result.
	data, found, err := wf.store.GetStepResult(wf.ctx, wf.run.ID, name)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: get checkpoint %q: %w", wf.run.WorkflowName, name, err)
	}
	if found {
		var result T
		if decErr := json.Unmarshal(data, &result); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode checkpoint %q: %w", wf.run.WorkflowName, name, decErr)
		}
		wf.logger.Debug("replaying checkpointed step",
			zap.String("run_id", wf.run.ID.String()),
			zap.String("step", name),
		)
		wf.emitter.StepReplayed(wf.run, name)
		return result, nil
	}

	// Execute the step body under a span.
	ctx, span := wf.tracer.Start(wf.ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("workflow.name", wf.run.WorkflowName),
			attribute.String("workflow.run_id", wf.run.ID.String()),
			attribute.String("workflow.step", name),
		),
	)
	start := time.Now()
	result, stepErr := fn(ctx)
	elapsed := time.Since(start)
	span.End()

	if stepErr != nil {
		wf.emitter.StepFailed(wf.run, name, stepErr)
		return zero, fmt.Errorf("workflow %s step %q: %w", wf.run.WorkflowName, name, stepErr)
	}

	encoded, encErr := json.Marshal(result)
	if encErr != nil {
		return zero, fmt.Errorf("workflow %s: encode checkpoint %q: %w", wf.run.WorkflowName, name, encErr)
	}

	// Checkpoint persistence is what makes step N+1 safe to start:
	// the step is durably done before execution moves on.
	if saveErr := wf.store.SaveStepResult(wf.ctx, wf.run.ID, name, encoded); saveErr != nil {
		return zero, fmt.Errorf("workflow %s: save checkpoint %q: %w", wf.run.WorkflowName, name, saveErr)
	}

	wf.emitter.StepCompleted(wf.run, name, elapsed)
	return result, nil
}
