package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Window(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(10, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "owner-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "owner-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, now.Add(time.Minute), d.ResetAt)

	// Other keys have their own window.
	d, err = l.Allow(ctx, "owner-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	now = now.Add(61 * time.Second)
	d, err = l.Allow(ctx, "owner-1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_EvictsLeastRecent(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(1, func() time.Time { return now })
	ctx := context.Background()

	d, err := l.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = l.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	_, err = l.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())

	// "a" was evicted by "b" and starts a new window.
	d, err = l.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Unlimited(t *testing.T) {
	l := NewMemoryLimiter(0, nil)
	d, err := l.Allow(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("INTAKE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INTAKE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisLimiter(client, "intake:test:"+uuid.NewString()+":", nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "owner-1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, "owner-1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
}

func TestNewRedisLimiter_RequiresClient(t *testing.T) {
	_, err := NewRedisLimiter(nil, "", nil)
	require.Error(t, err)
}
