package progress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_PercentNeverRegresses(t *testing.T) {
	snap := NewSnapshot("job-1")

	snap = Merge(snap, Update{ProgressPercent: Percent(40)})
	assert.Equal(t, 40, snap.ProgressPercent)

	// A stale worker reporting a lower value changes nothing.
	snap = Merge(snap, Update{ProgressPercent: Percent(25)})
	assert.Equal(t, 40, snap.ProgressPercent)

	snap = Merge(snap, Update{ProgressPercent: Percent(90)})
	assert.Equal(t, 90, snap.ProgressPercent)
}

func TestMerge_IsIdempotent(t *testing.T) {
	snap := NewSnapshot("job-1")
	update := Update{
		ProgressPercent: Percent(50),
		Title:           "Research report",
		Sources:         []Source{{URL: "https://a.example", Title: "A"}},
	}

	once := Merge(snap, update)
	twice := Merge(once, update)

	assert.Equal(t, once.ProgressPercent, twice.ProgressPercent)
	assert.Equal(t, once.Title, twice.Title)
	assert.Equal(t, once.Sources, twice.Sources)
}

func TestMerge_TerminalSnapshotAbsorbsUpdates(t *testing.T) {
	snap := NewSnapshot("job-1")
	snap = Merge(snap, Update{
		Status:          StatusDone,
		ProgressPercent: Percent(100),
		Result:          json.RawMessage(`{"summary":"done"}`),
	})
	require.True(t, snap.Status.IsTerminal())

	after := Merge(snap, Update{
		Status:          StatusErrored,
		ProgressPercent: Percent(10),
		Title:           "late title",
		Error:           "late error",
	})

	assert.Equal(t, snap, after)
}

func TestMerge_SourcesUnionByURL(t *testing.T) {
	snap := NewSnapshot("job-1")

	snap = Merge(snap, Update{Sources: []Source{
		{URL: "https://a.example", Title: "A"},
		{URL: "https://b.example", Title: "B"},
	}})
	snap = Merge(snap, Update{Sources: []Source{
		{URL: "https://b.example", Title: "B updated"}, // duplicate URL dropped
		{URL: "https://c.example", Title: "C"},
	}})

	require.Len(t, snap.Sources, 3)
	assert.Equal(t, "https://a.example", snap.Sources[0].URL)
	assert.Equal(t, "https://b.example", snap.Sources[1].URL)
	assert.Equal(t, "B", snap.Sources[1].Title, "first occurrence wins")
	assert.Equal(t, "https://c.example", snap.Sources[2].URL)
}

func TestMerge_EmptyFieldsLeaveExistingIntact(t *testing.T) {
	snap := NewSnapshot("job-1")
	snap = Merge(snap, Update{Title: "original", Error: "warning"})

	merged := Merge(snap, Update{ProgressPercent: Percent(5)})

	assert.Equal(t, "original", merged.Title)
	assert.Equal(t, "warning", merged.Error)
}

func TestMerge_NonEmptyScalarWins(t *testing.T) {
	snap := NewSnapshot("job-1")
	snap = Merge(snap, Update{Title: "first"})
	snap = Merge(snap, Update{Title: "second"})

	assert.Equal(t, "second", snap.Title)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusErrored.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}
