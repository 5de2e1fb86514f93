package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func progressStores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStore(client, "test:")
		},
		"sqlite": func(t *testing.T) Store {
			db, err := gorm.Open(sqlite.Open(t.TempDir()+"/progress.db"), &gorm.Config{
				Logger: gormlogger.Default.LogMode(gormlogger.Silent),
			})
			require.NoError(t, err)
			// One connection keeps concurrent writers from tripping
			// over SQLite's database-level lock.
			sqlDB, err := db.DB()
			require.NoError(t, err)
			sqlDB.SetMaxOpenConns(1)
			store, err := NewGormStore(db)
			require.NoError(t, err)
			return store
		},
	}
}

func TestProgressStore_CreateAndRead(t *testing.T) {
	for name, factory := range progressStores(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			snap := NewSnapshot("job-1")
			snap.Title = "First job"
			require.NoError(t, store.Create(ctx, snap))

			got, err := store.Read(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, "job-1", got.JobID)
			assert.Equal(t, StatusInProgress, got.Status)
			assert.Equal(t, "First job", got.Title)
			assert.Equal(t, 0, got.ProgressPercent)
		})
	}
}

func TestProgressStore_CreateDuplicate(t *testing.T) {
	for name, factory := range progressStores(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Create(ctx, NewSnapshot("job-1")))
			assert.ErrorIs(t, store.Create(ctx, NewSnapshot("job-1")), ErrJobExists)
		})
	}
}

func TestProgressStore_ReadMissing(t *testing.T) {
	for name, factory := range progressStores(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			_, err := store.Read(context.Background(), "ghost")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestProgressStore_UpdateMissing(t *testing.T) {
	for name, factory := range progressStores(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			_, err := store.Update(context.Background(), "ghost", Update{Title: "x"})
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestProgressStore_UpdateMergesAndReturns(t *testing.T) {
	for name, factory := range progressStores(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Create(ctx, NewSnapshot("job-1")))

			merged, err := store.Update(ctx, "job-1", Update{
				ProgressPercent: Percent(30),
				Sources:         []Source{{URL: "https://a.example"}},
			})
			require.NoError(t, err)
			assert.Equal(t, 30, merged.ProgressPercent)
			require.Len(t, merged.Sources, 1)

			// A stale lower percent does not regress the stored value.
			merged, err = store.Update(ctx, "job-1", Update{ProgressPercent: Percent(10)})
			require.NoError(t, err)
			assert.Equal(t, 30, merged.ProgressPercent)
		})
	}
}

func TestProgressStore_TerminalUpdateSticks(t *testing.T) {
	for name, factory := range progressStores(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Create(ctx, NewSnapshot("job-1")))

			_, err := store.Update(ctx, "job-1", Update{
				Status:          StatusDone,
				ProgressPercent: Percent(100),
				Result:          json.RawMessage(`{"ok":true}`),
			})
			require.NoError(t, err)

			after, err := store.Update(ctx, "job-1", Update{Status: StatusErrored, Error: "late"})
			require.NoError(t, err)
			assert.Equal(t, StatusDone, after.Status)
			assert.Empty(t, after.Error)
		})
	}
}

// Concurrent workers reporting disjoint sources must all survive the
// merge: the read-modify-write cycle may not lose updates.
func TestProgressStore_ConcurrentUpdatesLoseNothing(t *testing.T) {
	for name, factory := range progressStores(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			require.NoError(t, store.Create(ctx, NewSnapshot("job-1")))

			const workers = 16
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := store.Update(ctx, "job-1", Update{
						ProgressPercent: Percent(i * 5),
						Sources:         []Source{{URL: fmt.Sprintf("https://w%d.example", i)}},
					})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			final, err := store.Read(ctx, "job-1")
			require.NoError(t, err)
			assert.Len(t, final.Sources, workers, "a concurrent merge was lost")
			assert.Equal(t, (workers-1)*5, final.ProgressPercent)
		})
	}
}
