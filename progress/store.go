package progress

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned by Create when the job ID is taken.
	ErrJobExists = errors.New("job already exists")
)

// Store is the persistence contract for progress snapshots.
//
// Update must be an atomic read-modify-write against the current
// persisted snapshot: either serialized per job ID or guarded by a
// conditional write, so two concurrent updates can never lose a merge.
// This is a correctness requirement, not an optimization.
type Store interface {
	// Create stores the initial snapshot for a job.
	Create(ctx context.Context, snapshot Snapshot) error

	// Update merges a partial update into the current snapshot and
	// returns the merged result. Updates against a terminal snapshot
	// are silently ignored and return the existing snapshot.
	Update(ctx context.Context, jobID string, update Update) (Snapshot, error)

	// Read returns the current snapshot for a job.
	Read(ctx context.Context, jobID string) (Snapshot, error)
}

// MemoryStore is an in-process Store. A single mutex serializes all
// read-modify-write cycles, which satisfies the atomicity contract.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Snapshot
}

// NewMemoryStore creates an in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Snapshot)}
}

func (s *MemoryStore) Create(ctx context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[snapshot.JobID]; ok {
		return ErrJobExists
	}
	s.jobs[snapshot.JobID] = snapshot
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, jobID string, update Update) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[jobID]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}

	merged := Merge(existing, update)
	s.jobs[jobID] = merged
	return merged, nil
}

func (s *MemoryStore) Read(ctx context.Context, jobID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.jobs[jobID]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return snapshot, nil
}
