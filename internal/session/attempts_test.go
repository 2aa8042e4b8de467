package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseTracker(t *testing.T, tr AttemptTracker) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := tr.CountSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, offset := range []time.Duration{0, time.Minute, 5 * time.Minute, 5 * time.Minute} {
		require.NoError(t, tr.RecordFailure(ctx, base.Add(offset)))
	}

	n, err = tr.CountSince(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = tr.CountSince(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n, "window start is inclusive")

	n, err = tr.CountSince(ctx, base.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryAttemptTracker(t *testing.T) {
	exerciseTracker(t, NewMemoryAttemptTracker(time.Hour))
}

func TestMemoryAttemptTracker_Prunes(t *testing.T) {
	tr := NewMemoryAttemptTracker(time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, tr.RecordFailure(ctx, base))
	require.NoError(t, tr.RecordFailure(ctx, base.Add(2*time.Minute)))
	assert.Len(t, tr.failures, 1)
}

func TestRedisAttemptTracker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tr := NewRedisAttemptTracker(client, "test", 24*time.Hour)
	exerciseTracker(t, tr)

	assert.True(t, mr.Exists("test:failed_proofs"))
	assert.Greater(t, mr.TTL("test:failed_proofs"), time.Duration(0))
}

func TestRedisAttemptTracker_Prunes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tr := NewRedisAttemptTracker(client, "", time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, tr.RecordFailure(ctx, base))
	require.NoError(t, tr.RecordFailure(ctx, base.Add(2*time.Minute)))

	members, err := mr.ZMembers("gophjournal:failed_proofs")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRedisAttemptTracker_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	tr := NewRedisAttemptTracker(client, "x", time.Minute)
	assert.Error(t, tr.RecordFailure(context.Background(), time.Now()))
	_, err := tr.CountSince(context.Background(), time.Now())
	assert.Error(t, err)
}
