package workflow

import (
	"context"

	"github.com/google/uuid"
)

// RunFilter controls run list queries.
type RunFilter struct {
	// Status filters by run status. Empty means all statuses.
	Status RunStatus
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
}

// Store defines the persistence contract for workflow runs and step
// checkpoints. Implementations must make SaveStepResult write-once:
// saving a result for an existing (runID, stepName) pair keeps the
// original record untouched.
type Store interface {
	// CreateRun persists a new workflow run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID. Returns ErrRunNotFound if absent.
	GetRun(ctx context.Context, runID uuid.UUID) (*Run, error)

	// UpdateRun persists changes to an existing run. The write applies
	// only while the stored record is still running: once a run is
	// terminal it is immutable, and a stale update (for example a cancel
	// racing the terminal write) gets ErrRunTerminal instead of
	// clobbering the finished record.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// SaveStepResult persists a step checkpoint. If a record already
	// exists for the same run and step name, the existing record wins
	// and no error is returned.
	SaveStepResult(ctx context.Context, runID uuid.UUID, stepName string, result []byte) error

	// GetStepResult retrieves a step checkpoint. The bool reports whether
	// a record exists; a nil result with found=true is a valid checkpoint
	// for steps that produce no value.
	GetStepResult(ctx context.Context, runID uuid.UUID, stepName string) ([]byte, bool, error)

	// ListStepResults returns all checkpoints for a run, oldest first.
	ListStepResults(ctx context.Context, runID uuid.UUID) ([]*StepRecord, error)

	// DeleteStepResults removes all checkpoints for a run.
	DeleteStepResults(ctx context.Context, runID uuid.UUID) error

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
