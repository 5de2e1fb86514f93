package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxCASRetries bounds the optimistic-transaction retry loop. Contention
// on one job is a handful of workers, so collisions resolve quickly.
const maxCASRetries = 16

// RedisStore is a Redis-backed progress store. Update runs the merge
// inside a WATCH/MULTI optimistic transaction: if another worker writes
// the snapshot between our read and write, the transaction fails and the
// whole read-merge-write cycle retries against the fresh value.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed progress store.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "stepflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) jobKey(jobID string) string {
	return s.keyPrefix + "progress:" + jobID
}

func (s *RedisStore) Create(ctx context.Context, snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.jobKey(snapshot.JobID), data, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return ErrJobExists
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, jobID string, update Update) (Snapshot, error) {
	key := s.jobKey(jobID)
	var merged Snapshot

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		var existing Snapshot
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}

		merged = Merge(existing, update)

		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Lost the race, retry against the fresh snapshot.
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return Snapshot{}, ctx.Err()
			}
			continue
		}
		return Snapshot{}, err
	}

	return Snapshot{}, fmt.Errorf("progress update for job %s: too much contention", jobID)
}

func (s *RedisStore) Read(ctx context.Context, jobID string) (Snapshot, error) {
	data, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return Snapshot{}, ErrJobNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}
