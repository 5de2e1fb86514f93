package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func activityLogs(t *testing.T) map[string]func(t *testing.T) ActivityLog {
	return map[string]func(t *testing.T) ActivityLog{
		"memory": func(t *testing.T) ActivityLog {
			return NewMemoryActivityLog()
		},
		"redis": func(t *testing.T) ActivityLog {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisActivityLog(client, "test:")
		},
		"sqlite": func(t *testing.T) ActivityLog {
			db, err := gorm.Open(sqlite.Open(t.TempDir()+"/activities.db"), &gorm.Config{
				Logger: gormlogger.Default.LogMode(gormlogger.Silent),
			})
			require.NoError(t, err)
			log, err := NewGormActivityLog(db)
			require.NoError(t, err)
			return log
		},
	}
}

func TestActivityLog_CreateAndList(t *testing.T) {
	for name, factory := range activityLogs(t) {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			ctx := context.Background()

			id1, err := log.Create(ctx, "job-1", KindQueued, ActivityDone, "Job queued")
			require.NoError(t, err)
			time.Sleep(5 * time.Millisecond)
			id2, err := log.Create(ctx, "job-1", KindSearch, ActivityInProgress, "Searching")
			require.NoError(t, err)
			require.NotEqual(t, id1, id2)

			// A second job's records stay out of the first job's feed.
			_, err = log.Create(ctx, "job-2", KindQueued, ActivityDone, "Other job")
			require.NoError(t, err)

			activities, err := log.List(ctx, "job-1")
			require.NoError(t, err)
			require.Len(t, activities, 2)
			assert.Equal(t, KindQueued, activities[0].Kind)
			assert.Equal(t, KindSearch, activities[1].Kind)
			assert.Equal(t, "Searching", activities[1].Label)
			assert.True(t, !activities[1].CreatedAt.Before(activities[0].CreatedAt))
		})
	}
}

func TestActivityLog_Update(t *testing.T) {
	for name, factory := range activityLogs(t) {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			ctx := context.Background()

			id, err := log.Create(ctx, "job-1", KindFetch, ActivityInProgress, "Fetching page")
			require.NoError(t, err)

			done := ActivityDone
			require.NoError(t, log.Update(ctx, id, ActivityPatch{Status: &done}))

			activities, err := log.List(ctx, "job-1")
			require.NoError(t, err)
			require.Len(t, activities, 1)
			assert.Equal(t, ActivityDone, activities[0].Status)
			// Patch without a label leaves the old label intact.
			assert.Equal(t, "Fetching page", activities[0].Label)

			label := "Fetched page"
			require.NoError(t, log.Update(ctx, id, ActivityPatch{Label: &label}))
			activities, err = log.List(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, "Fetched page", activities[0].Label)
		})
	}
}

func TestActivityLog_UpdateMissing(t *testing.T) {
	for name, factory := range activityLogs(t) {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			done := ActivityDone
			err := log.Update(context.Background(), "no-such-id", ActivityPatch{Status: &done})
			assert.ErrorIs(t, err, ErrActivityNotFound)
		})
	}
}

func TestActivityLog_DeleteForJob(t *testing.T) {
	for name, factory := range activityLogs(t) {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			ctx := context.Background()

			_, err := log.Create(ctx, "job-1", KindSearch, ActivityDone, "a")
			require.NoError(t, err)
			_, err = log.Create(ctx, "job-1", KindFetch, ActivityDone, "b")
			require.NoError(t, err)
			keepID, err := log.Create(ctx, "job-2", KindSearch, ActivityDone, "keep")
			require.NoError(t, err)

			require.NoError(t, log.DeleteForJob(ctx, "job-1"))

			gone, err := log.List(ctx, "job-1")
			require.NoError(t, err)
			assert.Empty(t, gone)

			kept, err := log.List(ctx, "job-2")
			require.NoError(t, err)
			require.Len(t, kept, 1)
			assert.Equal(t, keepID, kept[0].ID)
		})
	}
}

func TestActivityLog_ListEmptyJob(t *testing.T) {
	for name, factory := range activityLogs(t) {
		t.Run(name, func(t *testing.T) {
			log := factory(t)
			activities, err := log.List(context.Background(), "nothing-here")
			require.NoError(t, err)
			assert.Empty(t, activities)
		})
	}
}
