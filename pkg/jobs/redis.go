package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue pushes jobs onto one Redis list per kind, named prefix:kind.
// Workers pop from the other end.
type RedisQueue struct {
	redis  *redis.Client
	prefix string
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "platformauth:jobs"
	}
	return &RedisQueue{
		redis:  client,
		prefix: prefix,
	}
}

func (q *RedisQueue) buildKey(kind string) string {
	return fmt.Sprintf("%s:%s", q.prefix, kind)
}

func (q *RedisQueue) Submit(ctx context.Context, kind string, payload any) (string, error) {
	job, err := newJob(kind, payload, time.Now())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	key := q.buildKey(kind)
	if err := q.redis.LPush(ctx, key, data).Err(); err != nil {
		return "", fmt.Errorf("failed to push job to %s: %w", key, err)
	}
	slog.Info("Queued job", "jobID", job.ID, "kind", kind, "queue", key)
	return job.ID, nil
}
