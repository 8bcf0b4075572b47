package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// redisKey is the hash holding all queued entries, field = entry id.
const redisKey = "weatherdash:retry-queue"

// RedisStorage persists queue entries in a Redis hash for deployments
// where multiple instances share one queue.
type RedisStorage struct {
	client redis.Cmdable
}

// NewRedisStorage wraps an existing Redis client.
func NewRedisStorage(client redis.Cmdable) *RedisStorage {
	return &RedisStorage{client: client}
}

func (s *RedisStorage) Save(ctx context.Context, req *ReplayRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding queue entry: %w", err)
	}
	return s.client.HSet(ctx, redisKey, req.ID, data).Err()
}

func (s *RedisStorage) Delete(ctx context.Context, id string) error {
	return s.client.HDel(ctx, redisKey, id).Err()
}

func (s *RedisStorage) List(ctx context.Context) ([]*ReplayRequest, error) {
	fields, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*ReplayRequest, 0, len(fields))
	for _, raw := range fields {
		var req ReplayRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			continue
		}
		out = append(out, &req)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}
