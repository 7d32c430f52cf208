package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// setupTestRedis connects to TEST_REDIS_ADDR or skips the test
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping Redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStatusCache(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	c := NewRedisStatusCache(client, "docjob:test:"+uuid.NewString()+":", time.Minute)

	completed := &domain.Job{
		ID:          "J1",
		Type:        domain.OpWordToPdf,
		Status:      domain.StatusCompleted,
		CreatedTime: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedTime: time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC),
		OutputFile:  "A",
	}

	t.Run("miss returns nil", func(t *testing.T) {
		job, err := c.Get(ctx, "J1")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("terminal job round trip", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, completed))

		job, err := c.Get(ctx, "J1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, domain.StatusCompleted, job.Status)
		assert.Equal(t, "A", job.OutputFile)

		ttl := client.TTL(ctx, c.key("J1")).Val()
		assert.True(t, ttl > 0 && ttl <= time.Minute)
	})

	t.Run("non terminal job is not cached", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, &domain.Job{ID: "J2", Status: domain.StatusInProgress}))

		job, err := c.Get(ctx, "J2")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("invalidate", func(t *testing.T) {
		require.NoError(t, c.Invalidate(ctx, "J1"))
		require.NoError(t, c.Invalidate(ctx, "J1"))

		job, err := c.Get(ctx, "J1")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("snapshot written after invalidate is ignored", func(t *testing.T) {
		require.NoError(t, c.Invalidate(ctx, "J1"))

		// a read that loaded the row before it was deleted caches it late
		require.NoError(t, c.Set(ctx, completed))

		job, err := c.Get(ctx, "J1")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("first snapshot wins", func(t *testing.T) {
		errored := &domain.Job{ID: "J3", Status: domain.StatusError, ErrorMessage: "boom", ErrorStatusCode: 500}
		require.NoError(t, c.Set(ctx, errored))
		require.NoError(t, c.Set(ctx, &domain.Job{ID: "J3", Status: domain.StatusCompleted}))

		job, err := c.Get(ctx, "J3")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, domain.StatusError, job.Status)
	})
}

func TestNop(t *testing.T) {
	var c StatusCache = Nop{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &domain.Job{ID: "J1", Status: domain.StatusCompleted}))
	job, err := c.Get(ctx, "J1")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, c.Invalidate(ctx, "J1"))
}
