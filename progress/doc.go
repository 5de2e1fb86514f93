// Package progress provides the externally-visible progress surface for
// long-running jobs: a merge-on-write status snapshot per job, and an
// append-only activity log for fine-grained per-worker reporting.
//
// The snapshot is the one piece of state mutated by multiple concurrent
// workers, so updates go through a pure reducer (Merge) applied under an
// atomic read-modify-write: a per-key lock in memory, an optimistic
// WATCH transaction in Redis. The activity log avoids contention by
// construction: each worker creates and updates only its own records.
//
// Both surfaces are designed for a polling consumer that re-reads the
// full state at a fixed interval until the job reaches a terminal state.
package progress
