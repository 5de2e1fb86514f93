package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	// RunStatusRunning means the workflow is currently executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted means the workflow finished successfully.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed means the workflow handler returned an error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusTimedOut means the wall-clock deadline elapsed before completion.
	RunStatusTimedOut RunStatus = "timedout"
	// RunStatusCancelled means the run was cancelled by the caller.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the status is a terminal state.
// Terminal states are absorbing: no transition ever leaves them.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusTimedOut, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Run represents a single durable execution of a workflow.
//
// A run is created in RunStatusRunning and transitions exactly once to one
// of the terminal states. Output is set iff the run completed.
type Run struct {
	ID           uuid.UUID       `json:"id"`
	WorkflowName string          `json:"workflow_name"`
	Status       RunStatus       `json:"status"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`

	// CancelRequested is set by Runner.Cancel and observed at the next
	// step boundary. Persisted so a cancel survives process restart.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	TimeoutAt   time.Time  `json:"timeout_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepRecord is the persisted checkpoint of a completed step.
// Records are write-once: the first result saved for a (run, step name)
// pair is the one replayed forever after.
type StepRecord struct {
	RunID       uuid.UUID       `json:"run_id"`
	StepName    string          `json:"step_name"`
	Result      json.RawMessage `json:"result"`
	CompletedAt time.Time       `json:"completed_at"`
}
