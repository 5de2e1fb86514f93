package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MapOptions configures a MapStep fan-out.
type MapOptions struct {
	// Concurrency is the hard cap on simultaneously executing item
	// bodies (default: 4).
	Concurrency int

	// MaxAttempts is the total number of attempts per item before it is
	// recorded as failed (default: 1, no retry).
	MaxAttempts int

	// Backoff controls the delay between attempts. MaxAttempts here
	// overrides Backoff.MaxAttempts.
	Backoff RetryConfig
}

func (o MapOptions) withDefaults(d EngineDefaults) MapOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = d.MapConcurrency
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MapMaxAttempts
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Backoff.InitialBackoff <= 0 {
		o.Backoff = DefaultRetryConfig()
	}
	return o
}

// mapEnvelope is the per-item checkpoint payload. Failed items are
// checkpointed too, so a resumed run does not retry an item that
// already exhausted its attempts.
type mapEnvelope struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// MapStep runs the same body over every item with bounded concurrency
// and per-item retry. The returned slice is aligned to the input order
// regardless of completion order; items that exhausted MaxAttempts are
// nil rather than an error, so one bad item never aborts the whole map.
// Callers must tolerate a partially-filled result, including all-nil.
//
// Each item is checkpointed as its own sub-step named "name[i]", so a
// resumed run re-executes only items that had not yet finished. A
// group-level checkpoint marks the whole map complete.
func MapStep[T, R any](wf *Workflow, name string, items []T, body func(ctx context.Context, item T, index int) (R, error), opts MapOptions) ([]*R, error) {
	opts = opts.withDefaults(wf.defaults)

	if err := wf.checkBoundary(); err != nil {
		return nil, err
	}

	// Whole-group replay.
	groupData, found, err := wf.store.GetStepResult(wf.ctx, wf.run.ID, name)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get map checkpoint %q: %w", wf.run.WorkflowName, name, err)
	}
	if found {
		var results []*R
		if decErr := json.Unmarshal(groupData, &results); decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode map checkpoint %q: %w", wf.run.WorkflowName, name, decErr)
		}
		wf.emitter.StepReplayed(wf.run, name)
		return results, nil
	}

	results := make([]*R, len(items))
	g, gctx := errgroup.WithContext(wf.ctx)
	g.SetLimit(opts.Concurrency)

	for i, item := range items {
		idx := i
		it := item
		itemName := fmt.Sprintf("%s[%d]", name, idx)
		g.Go(func() error {
			env, itemErr := runMapItem(wf, gctx, itemName, it, idx, body, opts)
			if itemErr != nil {
				// Store failure, not an item failure: abort the map.
				return itemErr
			}
			if env.OK {
				var value R
				if decErr := json.Unmarshal(env.Value, &value); decErr != nil {
					return fmt.Errorf("decode item %q: %w", itemName, decErr)
				}
				results[idx] = &value
			}
			wf.emitter.MapItemDone(wf.run, name, env.OK)
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		return nil, fmt.Errorf("workflow %s map %q: %w", wf.run.WorkflowName, name, waitErr)
	}

	encoded, encErr := json.Marshal(results)
	if encErr != nil {
		return nil, fmt.Errorf("workflow %s: encode map checkpoint %q: %w", wf.run.WorkflowName, name, encErr)
	}
	if saveErr := wf.store.SaveStepResult(wf.ctx, wf.run.ID, name, encoded); saveErr != nil {
		return nil, fmt.Errorf("workflow %s: save map checkpoint %q: %w", wf.run.WorkflowName, name, saveErr)
	}

	return results, nil
}

// runMapItem executes one map item with retry, replaying its checkpoint
// when present. The returned error is reserved for infrastructure
// failures (store access, encoding); body failures end up in the envelope.
func runMapItem[T, R any](wf *Workflow, ctx context.Context, itemName string, item T, idx int, body func(ctx context.Context, item T, index int) (R, error), opts MapOptions) (*mapEnvelope, error) {
	data, found, err := wf.store.GetStepResult(ctx, wf.run.ID, itemName)
	if err != nil {
		return nil, fmt.Errorf("get item checkpoint %q: %w", itemName, err)
	}
	if found {
		var env mapEnvelope
		if decErr := json.Unmarshal(data, &env); decErr != nil {
			return nil, fmt.Errorf("decode item checkpoint %q: %w", itemName, decErr)
		}
		return &env, nil
	}

	// Items without a checkpoint are new work: honor a cancel request
	// before starting them, not just at the map's own boundary.
	if err := wf.checkBoundary(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(opts.Backoff.CalculateBackoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		value, bodyErr := body(ctx, item, idx)
		if bodyErr == nil {
			encoded, encErr := json.Marshal(value)
			if encErr != nil {
				return nil, fmt.Errorf("encode item %q: %w", itemName, encErr)
			}
			env := &mapEnvelope{OK: true, Value: encoded}
			return env, saveEnvelope(wf, ctx, itemName, env)
		}

		lastErr = bodyErr
		wf.logger.Warn("map item attempt failed",
			zap.String("run_id", wf.run.ID.String()),
			zap.String("step", itemName),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", opts.MaxAttempts),
			zap.Error(bodyErr),
		)
	}

	// Attempts exhausted: checkpoint the failure so resume skips it.
	env := &mapEnvelope{OK: false, Error: lastErr.Error()}
	return env, saveEnvelope(wf, ctx, itemName, env)
}

func saveEnvelope(wf *Workflow, ctx context.Context, itemName string, env *mapEnvelope) error {
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode item checkpoint %q: %w", itemName, err)
	}
	if err := wf.store.SaveStepResult(ctx, wf.run.ID, itemName, encoded); err != nil {
		return fmt.Errorf("save item checkpoint %q: %w", itemName, err)
	}
	return nil
}
