package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reena96/bmax-adgenie-563362/internal/model"
)

const jobTTL = 24 * time.Hour

// RedisStore keeps job records as JSON blobs under job:<id> with a 24h
// TTL; retention beyond that is an external concern.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save compares job.Version against the stored record inside a WATCH
// transaction and writes only when they match. Any racing write between
// the read and the EXEC aborts the transaction, which surfaces as
// ErrVersionConflict.
func (s *RedisStore) Save(ctx context.Context, job *model.GenerationJob) error {
	key := jobKey(job.ID)
	next := job.Version + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if stored != job.Version {
			return ErrVersionConflict
		}

		clone := *job
		clone.Version = next
		data, err := json.Marshal(&clone)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, jobTTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}

	job.Version = next
	return nil
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var rec struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return rec.Version, nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*model.GenerationJob, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, jobKey(jobID)).Err()
}

func jobKey(jobID string) string {
	return "job:" + jobID
}
