package progress

import (
	"encoding/json"
	"time"
)

// Status is the externally-visible state of a job.
type Status string

const (
	// StatusInProgress means the job is still producing updates.
	StatusInProgress Status = "in_progress"
	// StatusDone means the job finished and Result is set.
	StatusDone Status = "done"
	// StatusErrored means the job failed; Error holds a short message.
	StatusErrored Status = "errored"
	// StatusCancelled means the job was cancelled by the user.
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true for done, errored, and cancelled.
// Once a snapshot is terminal no update may change it.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusErrored, StatusCancelled:
		return true
	default:
		return false
	}
}

// Source is one reference collected while working on a job.
// Sources form a set keyed by URL.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Favicon string `json:"favicon,omitempty"`
}

// Snapshot is the latest known status of a job, keyed by a job ID that
// is assigned before the run starts and may differ from the run ID.
type Snapshot struct {
	JobID           string          `json:"job_id"`
	Status          Status          `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	Title           string          `json:"title,omitempty"`
	Sources         []Source        `json:"sources,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewSnapshot returns the initial snapshot for a job.
func NewSnapshot(jobID string) Snapshot {
	now := time.Now().UTC()
	return Snapshot{
		JobID:           jobID,
		Status:          StatusInProgress,
		ProgressPercent: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Update is a partial snapshot carried by one worker's report.
// Zero-valued fields are "absent" and leave the existing value intact;
// ProgressPercent uses a pointer so 0 and absent are distinguishable.
type Update struct {
	Status          Status          `json:"status,omitempty"`
	ProgressPercent *int            `json:"progress_percent,omitempty"`
	Title           string          `json:"title,omitempty"`
	Sources         []Source        `json:"sources,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Percent is a convenience for building an Update's ProgressPercent.
func Percent(p int) *int { return &p }

// Merge applies an update to an existing snapshot and returns the merged
// result. It is a pure reducer with field-specific rules:
//
//   - a terminal existing snapshot absorbs every update unchanged
//   - ProgressPercent takes max(existing, incoming), never regresses
//   - Sources is a set union keyed by URL, first-seen order preserved
//   - every other field keeps the existing value unless the incoming
//     value is non-empty
//
// All rules are idempotent, so retried updates are safe.
func Merge(existing Snapshot, incoming Update) Snapshot {
	if existing.Status.IsTerminal() {
		return existing
	}

	merged := existing

	if incoming.Status != "" {
		merged.Status = incoming.Status
	}
	if incoming.ProgressPercent != nil && *incoming.ProgressPercent > merged.ProgressPercent {
		merged.ProgressPercent = *incoming.ProgressPercent
	}
	if incoming.Title != "" {
		merged.Title = incoming.Title
	}
	if len(incoming.Result) > 0 {
		merged.Result = incoming.Result
	}
	if incoming.Error != "" {
		merged.Error = incoming.Error
	}
	merged.Sources = mergeSources(existing.Sources, incoming.Sources)
	merged.UpdatedAt = time.Now().UTC()

	return merged
}

// mergeSources unions two source lists by URL, keeping the first
// occurrence of each URL and the order sources were first seen.
func mergeSources(existing, incoming []Source) []Source {
	if len(incoming) == 0 {
		return existing
	}

	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]Source, 0, len(existing)+len(incoming))
	for _, src := range existing {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		merged = append(merged, src)
	}
	for _, src := range incoming {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		merged = append(merged, src)
	}
	return merged
}
