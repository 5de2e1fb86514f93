package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed implementation of Store.
// Suitable for distributed deployments where several engine processes
// share one run history. Runs are stored as JSON values with sorted-set
// indexes by status; step checkpoints use SETNX so the first writer wins.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	// Addr Redis 地址
	Addr string `yaml:"addr" json:"addr"`
	// Password 密码
	Password string `yaml:"password" json:"password"`
	// DB 数据库编号
	DB int `yaml:"db" json:"db"`
	// PoolSize 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`
	// KeyPrefix is the prefix for all Redis keys.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// NewRedisStore creates a Redis-backed workflow store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "stepflow:"
	}

	return &RedisStore{client: client, keyPrefix: prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client, mainly for tests.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "stepflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) runKey(runID uuid.UUID) string {
	return s.keyPrefix + "run:data:" + runID.String()
}

func (s *RedisStore) statusKey(status RunStatus) string {
	return s.keyPrefix + "run:status:" + string(status)
}

func (s *RedisStore) allRunsKey() string {
	return s.keyPrefix + "run:all"
}

func (s *RedisStore) stepKey(runID uuid.UUID, stepName string) string {
	return s.keyPrefix + "step:" + runID.String() + ":" + stepName
}

func (s *RedisStore) stepIndexKey(runID uuid.UUID) string {
	return s.keyPrefix + "steps:" + runID.String()
}

func (s *RedisStore) CreateRun(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	score := float64(run.StartedAt.UnixNano())
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(run.ID), data, 0)
	pipe.ZAdd(ctx, s.statusKey(run.Status), redis.Z{Score: score, Member: run.ID.String()})
	pipe.ZAdd(ctx, s.allRunsKey(), redis.Z{Score: score, Member: run.ID.String()})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// maxUpdateRetries bounds the optimistic-transaction retry loop for
// UpdateRun. Contention on one run is a cancel racing the runner.
const maxUpdateRetries = 16

func (s *RedisStore) UpdateRun(ctx context.Context, run *Run) error {
	key := s.runKey(run.ID)

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	// WATCH makes the terminal check and the write one atomic unit: if
	// another writer lands between them the transaction fails and we
	// re-check against the fresh record.
	txn := func(tx *redis.Tx) error {
		stored, getErr := tx.Get(ctx, key).Bytes()
		if getErr == redis.Nil {
			return ErrRunNotFound
		}
		if getErr != nil {
			return getErr
		}

		var old Run
		if umErr := json.Unmarshal(stored, &old); umErr != nil {
			return fmt.Errorf("failed to unmarshal run: %w", umErr)
		}
		if old.Status.IsTerminal() {
			return ErrRunTerminal
		}

		score := float64(run.StartedAt.UnixNano())
		_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if old.Status != run.Status {
				pipe.ZRem(ctx, s.statusKey(old.Status), run.ID.String())
				pipe.ZAdd(ctx, s.statusKey(run.Status), redis.Z{Score: score, Member: run.ID.String()})
			}
			return nil
		})
		return pipeErr
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return err
	}

	return fmt.Errorf("update run %s: too much contention", run.ID)
}

func (s *RedisStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	indexKey := s.allRunsKey()
	if filter.Status != "" {
		indexKey = s.statusKey(filter.Status)
	}

	// Newest first.
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(ids) {
			return []*Run{}, nil
		}
		ids = ids[filter.Offset:]
	}
	if filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}

	runs := make([]*Run, 0, len(ids))
	for _, idStr := range ids {
		runID, parseErr := uuid.Parse(idStr)
		if parseErr != nil {
			continue
		}
		run, getErr := s.GetRun(ctx, runID)
		if getErr != nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *RedisStore) SaveStepResult(ctx context.Context, runID uuid.UUID, stepName string, result []byte) error {
	rec := StepRecord{
		RunID:       runID,
		StepName:    stepName,
		Result:      result,
		CompletedAt: time.Now(),
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}

	// SETNX keeps the first checkpoint if two writers race on the same name.
	created, err := s.client.SetNX(ctx, s.stepKey(runID, stepName), data, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	score := float64(rec.CompletedAt.UnixNano())
	return s.client.ZAdd(ctx, s.stepIndexKey(runID), redis.Z{Score: score, Member: stepName}).Err()
}

func (s *RedisStore) GetStepResult(ctx context.Context, runID uuid.UUID, stepName string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.stepKey(runID, stepName)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rec StepRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal step record: %w", err)
	}
	return rec.Result, true, nil
}

func (s *RedisStore) ListStepResults(ctx context.Context, runID uuid.UUID) ([]*StepRecord, error) {
	names, err := s.client.ZRange(ctx, s.stepIndexKey(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*StepRecord, 0, len(names))
	for _, name := range names {
		data, getErr := s.client.Get(ctx, s.stepKey(runID, name)).Bytes()
		if getErr != nil {
			continue
		}
		var rec StepRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (s *RedisStore) DeleteStepResults(ctx context.Context, runID uuid.UUID) error {
	names, err := s.client.ZRange(ctx, s.stepIndexKey(runID), 0, -1).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(names)+1)
	for _, name := range names {
		keys = append(keys, s.stepKey(runID, name))
	}
	keys = append(keys, s.stepIndexKey(runID))
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
