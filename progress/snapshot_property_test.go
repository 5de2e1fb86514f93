package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genUpdate(rt *rapid.T) Update {
	update := Update{}

	if rapid.Bool().Draw(rt, "has_percent") {
		update.ProgressPercent = Percent(rapid.IntRange(0, 100).Draw(rt, "percent"))
	}
	if rapid.Bool().Draw(rt, "has_title") {
		update.Title = rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "title")
	}
	if rapid.Bool().Draw(rt, "has_status") {
		update.Status = rapid.SampledFrom([]Status{
			StatusInProgress, StatusDone, StatusErrored, StatusCancelled,
		}).Draw(rt, "status")
	}

	sourceCount := rapid.IntRange(0, 4).Draw(rt, "source_count")
	for i := 0; i < sourceCount; i++ {
		update.Sources = append(update.Sources, Source{
			URL: "https://example.com/" + rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "url"),
		})
	}

	return update
}

func TestProperty_MergePercentMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		snap := NewSnapshot("job")
		steps := rapid.IntRange(1, 20).Draw(rt, "steps")

		prev := snap.ProgressPercent
		for i := 0; i < steps; i++ {
			snap = Merge(snap, genUpdate(rt))
			assert.GreaterOrEqual(t, snap.ProgressPercent, prev, "percent regressed at step %d", i)
			prev = snap.ProgressPercent
		}
	})
}

func TestProperty_MergeIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		snap := NewSnapshot("job")
		update := genUpdate(rt)

		once := Merge(snap, update)
		twice := Merge(once, update)

		assert.Equal(t, once.Status, twice.Status)
		assert.Equal(t, once.ProgressPercent, twice.ProgressPercent)
		assert.Equal(t, once.Title, twice.Title)
		assert.Equal(t, once.Sources, twice.Sources)
	})
}

func TestProperty_TerminalSnapshotImmutable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		snap := NewSnapshot("job")
		snap = Merge(snap, Update{Status: StatusDone, ProgressPercent: Percent(100)})
		require.True(t, snap.Status.IsTerminal())

		steps := rapid.IntRange(1, 10).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			after := Merge(snap, genUpdate(rt))
			assert.Equal(t, snap, after, "terminal snapshot changed at step %d", i)
		}
	})
}

func TestProperty_SourcesNeverDuplicate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		snap := NewSnapshot("job")
		steps := rapid.IntRange(1, 15).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			snap = Merge(snap, genUpdate(rt))
		}

		seen := make(map[string]bool, len(snap.Sources))
		for _, src := range snap.Sources {
			assert.False(t, seen[src.URL], "duplicate source %s", src.URL)
			seen[src.URL] = true
		}
	})
}
