package progress

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrActivityNotFound 活动记录不存在
var ErrActivityNotFound = errors.New("activity not found")

// Kind classifies an activity for display purposes.
type Kind string

const (
	KindSearch  Kind = "search"
	KindFetch   Kind = "fetch"
	KindCompose Kind = "compose"
	KindThink   Kind = "think"
	KindQueued  Kind = "queued"
)

// ActivityStatus is the state of one activity record.
type ActivityStatus string

const (
	ActivityPending    ActivityStatus = "pending"
	ActivityInProgress ActivityStatus = "in_progress"
	ActivityDone       ActivityStatus = "done"
	ActivityError      ActivityStatus = "error"
)

// Activity is one fine-grained unit of visible work. Each record is
// created and later updated by exactly one worker, so concurrent map
// items never contend on a shared row.
type Activity struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Kind      Kind           `json:"kind"`
	Status    ActivityStatus `json:"status"`
	Label     string         `json:"label"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ActivityPatch is a partial activity update. Nil fields are untouched.
type ActivityPatch struct {
	Status *ActivityStatus
	Label  *string
}

// ActivityLog is the persistence contract for activity records.
type ActivityLog interface {
	// Create appends a new activity record and returns its ID.
	Create(ctx context.Context, jobID string, kind Kind, status ActivityStatus, label string) (string, error)

	// Update applies a patch to an existing record in place.
	Update(ctx context.Context, activityID string, patch ActivityPatch) error

	// List returns all records for a job ordered by CreatedAt ascending.
	List(ctx context.Context, jobID string) ([]*Activity, error)

	// DeleteForJob removes every record for a job (cancel/restart cleanup).
	DeleteForJob(ctx context.Context, jobID string) error
}

// MemoryActivityLog is an in-process ActivityLog for development and tests.
type MemoryActivityLog struct {
	mu         sync.RWMutex
	activities map[string]*Activity
	byJob      map[string][]string
}

// NewMemoryActivityLog creates an in-memory activity log.
func NewMemoryActivityLog() *MemoryActivityLog {
	return &MemoryActivityLog{
		activities: make(map[string]*Activity),
		byJob:      make(map[string][]string),
	}
}

func (l *MemoryActivityLog) Create(ctx context.Context, jobID string, kind Kind, status ActivityStatus, label string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	activity := &Activity{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Kind:      kind,
		Status:    status,
		Label:     label,
		CreatedAt: now,
		UpdatedAt: now,
	}

	l.activities[activity.ID] = activity
	l.byJob[jobID] = append(l.byJob[jobID], activity.ID)
	return activity.ID, nil
}

func (l *MemoryActivityLog) Update(ctx context.Context, activityID string, patch ActivityPatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	activity, ok := l.activities[activityID]
	if !ok {
		return ErrActivityNotFound
	}

	if patch.Status != nil {
		activity.Status = *patch.Status
	}
	if patch.Label != nil {
		activity.Label = *patch.Label
	}
	activity.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryActivityLog) List(ctx context.Context, jobID string) ([]*Activity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byJob[jobID]
	result := make([]*Activity, 0, len(ids))
	for _, id := range ids {
		if activity, ok := l.activities[id]; ok {
			cp := *activity
			result = append(result, &cp)
		}
	}

	// Stable sort keeps insertion order for records created within the
	// same clock tick.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (l *MemoryActivityLog) DeleteForJob(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.byJob[jobID] {
		delete(l.activities, id)
	}
	delete(l.byJob, jobID)
	return nil
}
