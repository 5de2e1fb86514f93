package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRun seeds a running run into the store and returns a Workflow
// context bound to it.
func newTestRun(t *testing.T, store Store) (*Run, *Workflow) {
	t.Helper()

	now := time.Now().UTC()
	run := &Run{
		ID:           uuid.New(),
		WorkflowName: "test",
		Status:       RunStatusRunning,
		Input:        []byte(`{}`),
		StartedAt:    now,
		TimeoutAt:    now.Add(time.Minute),
	}
	require.NoError(t, store.CreateRun(context.Background(), run))

	return run, NewWorkflowContext(context.Background(), run, store, nil, nil)
}

func TestStepResult_ExecutesBodyOnce(t *testing.T) {
	store := NewMemoryStore()
	_, wf := newTestRun(t, store)

	calls := 0
	body := func(ctx context.Context) (string, error) {
		calls++
		return "value", nil
	}

	first, err := StepResult(wf, "fetch-title", body)
	require.NoError(t, err)
	assert.Equal(t, "value", first)
	assert.Equal(t, 1, calls)

	// Same name again: checkpoint replay, body untouched.
	second, err := StepResult(wf, "fetch-title", body)
	require.NoError(t, err)
	assert.Equal(t, "value", second)
	assert.Equal(t, 1, calls)
}

func TestStepResult_ReplayAfterRestart(t *testing.T) {
	store := NewMemoryStore()
	run, wf := newTestRun(t, store)

	_, err := StepResult(wf, "summarize", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)

	// Fresh context over the same store, as after a process restart.
	// A body returning a different value must never be consulted.
	wf2 := NewWorkflowContext(context.Background(), run, store, nil, nil)
	replayed, err := StepResult(wf2, "summarize", func(ctx context.Context) (int, error) {
		t.Fatal("checkpointed step body re-executed")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, replayed)
}

func TestStepResult_DistinctNamesExecuteIndependently(t *testing.T) {
	store := NewMemoryStore()
	_, wf := newTestRun(t, store)

	a, err := StepResult(wf, "step-a", func(ctx context.Context) (string, error) { return "a", nil })
	require.NoError(t, err)
	b, err := StepResult(wf, "step-b", func(ctx context.Context) (string, error) { return "b", nil })
	require.NoError(t, err)

	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)

	records, err := store.ListStepResults(context.Background(), wf.run.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStepResult_ErrorIsNotCheckpointed(t *testing.T) {
	store := NewMemoryStore()
	_, wf := newTestRun(t, store)

	boom := errors.New("transient")
	_, err := StepResult(wf, "flaky", func(ctx context.Context) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	// A failed step left no checkpoint: the body runs again.
	value, err := StepResult(wf, "flaky", func(ctx context.Context) (string, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
}

func TestStep_NoResultVariant(t *testing.T) {
	store := NewMemoryStore()
	_, wf := newTestRun(t, store)

	calls := 0
	require.NoError(t, wf.Step("notify", func(ctx context.Context) error {
		calls++
		return nil
	}))
	require.NoError(t, wf.Step("notify", func(ctx context.Context) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestStepResult_CancelObservedAtBoundary(t *testing.T) {
	store := NewMemoryStore()
	run, wf := newTestRun(t, store)

	run.CancelRequested = true
	require.NoError(t, store.UpdateRun(context.Background(), run))

	_, err := StepResult(wf, "after-cancel", func(ctx context.Context) (string, error) {
		t.Fatal("step body executed after cancel request")
		return "", nil
	})
	assert.ErrorIs(t, err, ErrRunCancelled)
}

func TestStepResult_ContextDeadlineStopsBoundary(t *testing.T) {
	store := NewMemoryStore()
	run, _ := newTestRun(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wf := NewWorkflowContext(ctx, run, store, nil, nil)

	_, err := StepResult(wf, "never", func(ctx context.Context) (string, error) {
		t.Fatal("step body executed on dead context")
		return "", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStepResult_EmitterEvents(t *testing.T) {
	store := NewMemoryStore()
	run, _ := newTestRun(t, store)

	rec := &recordingEmitter{}
	wf := NewWorkflowContext(context.Background(), run, store, rec, nil)

	_, err := StepResult(wf, "ok", func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = StepResult(wf, "ok", func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = StepResult(wf, "bad", func(ctx context.Context) (int, error) { return 0, errors.New("x") })
	require.Error(t, err)

	assert.Equal(t, []string{"completed:ok", "replayed:ok", "failed:bad"}, rec.events)
}

type recordingEmitter struct {
	events []string
}

func (r *recordingEmitter) StepCompleted(_ *Run, name string, _ time.Duration) {
	r.events = append(r.events, "completed:"+name)
}

func (r *recordingEmitter) StepFailed(_ *Run, name string, _ error) {
	r.events = append(r.events, "failed:"+name)
}

func (r *recordingEmitter) StepReplayed(_ *Run, name string) {
	r.events = append(r.events, "replayed:"+name)
}

func (r *recordingEmitter) MapItemDone(_ *Run, name string, ok bool) {
	if ok {
		r.events = append(r.events, "item-ok:"+name)
	} else {
		r.events = append(r.events, "item-failed:"+name)
	}
}
