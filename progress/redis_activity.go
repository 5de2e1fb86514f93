package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisActivityLog stores each activity as its own key plus a per-job
// sorted-set index scored by creation time, mirroring the disjoint-row
// ownership model: workers only ever touch their own activity keys.
type RedisActivityLog struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisActivityLog creates a Redis-backed activity log.
func NewRedisActivityLog(client *redis.Client, keyPrefix string) *RedisActivityLog {
	if keyPrefix == "" {
		keyPrefix = "stepflow:"
	}
	return &RedisActivityLog{client: client, keyPrefix: keyPrefix}
}

func (l *RedisActivityLog) activityKey(activityID string) string {
	return l.keyPrefix + "activity:data:" + activityID
}

func (l *RedisActivityLog) jobIndexKey(jobID string) string {
	return l.keyPrefix + "activity:job:" + jobID
}

func (l *RedisActivityLog) Create(ctx context.Context, jobID string, kind Kind, status ActivityStatus, label string) (string, error) {
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

	data, err := json.Marshal(activity)
	if err != nil {
		return "", fmt.Errorf("failed to marshal activity: %w", err)
	}

	pipe := l.client.Pipeline()
	pipe.Set(ctx, l.activityKey(activity.ID), data, 0)
	pipe.ZAdd(ctx, l.jobIndexKey(jobID), redis.Z{
		Score:  float64(now.UnixNano()),
		Member: activity.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return activity.ID, nil
}

func (l *RedisActivityLog) Update(ctx context.Context, activityID string, patch ActivityPatch) error {
	key := l.activityKey(activityID)

	data, err := l.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrActivityNotFound
	}
	if err != nil {
		return err
	}

	var activity Activity
	if err := json.Unmarshal(data, &activity); err != nil {
		return fmt.Errorf("failed to unmarshal activity: %w", err)
	}

	if patch.Status != nil {
		activity.Status = *patch.Status
	}
	if patch.Label != nil {
		activity.Label = *patch.Label
	}
	activity.UpdatedAt = time.Now().UTC()

	// Plain SET is safe here: the record has exactly one writer.
	encoded, err := json.Marshal(&activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return l.client.Set(ctx, key, encoded, 0).Err()
}

func (l *RedisActivityLog) List(ctx context.Context, jobID string) ([]*Activity, error) {
	ids, err := l.client.ZRange(ctx, l.jobIndexKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*Activity, 0, len(ids))
	for _, id := range ids {
		data, getErr := l.client.Get(ctx, l.activityKey(id)).Bytes()
		if getErr != nil {
			continue
		}
		var activity Activity
		if err := json.Unmarshal(data, &activity); err != nil {
			continue
		}
		result = append(result, &activity)
	}
	return result, nil
}

func (l *RedisActivityLog) DeleteForJob(ctx context.Context, jobID string) error {
	ids, err := l.client.ZRange(ctx, l.jobIndexKey(jobID), 0, -1).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, l.activityKey(id))
	}
	keys = append(keys, l.jobIndexKey(jobID))
	return l.client.Del(ctx, keys...).Err()
}
