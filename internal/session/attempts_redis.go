package session

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisAttemptTracker shares failed-proof counts between processes on the
// same device or account, using one sorted set scored by unix milliseconds.
type RedisAttemptTracker struct {
	client    redis.Cmdable
	key       string
	retention time.Duration
}

// NewRedisAttemptTracker stores failures under "<prefix>:failed_proofs".
func NewRedisAttemptTracker(client redis.Cmdable, prefix string, retention time.Duration) *RedisAttemptTracker {
	if prefix == "" {
		prefix = "gophjournal"
	}
	if retention <= 0 {
		retention = defaultAttemptRetention
	}
	return &RedisAttemptTracker{client: client, key: prefix + ":failed_proofs", retention: retention}
}

func (t *RedisAttemptTracker) RecordFailure(ctx context.Context, at time.Time) error {
	cutoff := at.Add(-t.retention).UnixMilli()

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, t.key, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
		pipe.ZRemRangeByScore(ctx, t.key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.PExpire(ctx, t.key, t.retention)
		return nil
	})
	return err
}

func (t *RedisAttemptTracker) CountSince(ctx context.Context, since time.Time) (int, error) {
	n, err := t.client.ZCount(ctx, t.key, strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
