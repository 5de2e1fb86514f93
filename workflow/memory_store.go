package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. All data is lost on restart,
// so it provides checkpoint replay only within a single process.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]*Run
	steps  map[uuid.UUID]map[string]*StepRecord
	order  map[uuid.UUID][]string // step insertion order per run
	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[uuid.UUID]*Run),
		steps: make(map[uuid.UUID]map[string]*StepRecord),
		order: make(map[uuid.UUID][]string),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	existing, ok := s.runs[run.ID]
	if !ok {
		return ErrRunNotFound
	}
	if existing.Status.IsTerminal() {
		return ErrRunTerminal
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Run, 0)
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		cp := *run
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*Run{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (s *MemoryStore) SaveStepResult(ctx context.Context, runID uuid.UUID, stepName string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if s.steps[runID] == nil {
		s.steps[runID] = make(map[string]*StepRecord)
	}

	// Write-once: the first checkpoint for a step name wins.
	if _, ok := s.steps[runID][stepName]; ok {
		return nil
	}

	data := make([]byte, len(result))
	copy(data, result)

	s.steps[runID][stepName] = &StepRecord{
		RunID:       runID,
		StepName:    stepName,
		Result:      data,
		CompletedAt: time.Now(),
	}
	s.order[runID] = append(s.order[runID], stepName)
	return nil
}

func (s *MemoryStore) GetStepResult(ctx context.Context, runID uuid.UUID, stepName string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	rec, ok := s.steps[runID][stepName]
	if !ok {
		return nil, false, nil
	}

	data := make([]byte, len(rec.Result))
	copy(data, rec.Result)
	return data, true, nil
}

func (s *MemoryStore) ListStepResults(ctx context.Context, runID uuid.UUID) ([]*StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	records := make([]*StepRecord, 0, len(s.order[runID]))
	for _, name := range s.order[runID] {
		if rec, ok := s.steps[runID][name]; ok {
			cp := *rec
			records = append(records, &cp)
		}
	}
	return records, nil
}

func (s *MemoryStore) DeleteStepResults(ctx context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.steps, runID)
	delete(s.order, runID)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
