package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// StatusCache holds snapshots of jobs that reached a terminal state.
// Terminal jobs never change, so a snapshot stays valid until the job is
// reaped. Invalidate must keep a later Set of the same job from resurrecting it.
type StatusCache interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Set(ctx context.Context, job *domain.Job) error
	Invalidate(ctx context.Context, jobID string) error
}

// tombstone marks a reaped job; snapshots are only written where no value exists
const tombstone = "reaped"

// RedisStatusCache stores job snapshots in Redis
type RedisStatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatusCache creates a Redis-backed status cache
func NewRedisStatusCache(client *redis.Client, prefix string, ttl time.Duration) *RedisStatusCache {
	if prefix == "" {
		prefix = "docjob:status:"
	}
	return &RedisStatusCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisStatusCache) key(jobID string) string {
	return c.prefix + jobID
}

// Get returns the cached job, or nil when absent
func (c *RedisStatusCache) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	data, err := c.client.Get(ctx, c.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached status: %w", err)
	}

	if string(data) == tombstone {
		return nil, nil
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode cached status: %w", err)
	}
	return &job, nil
}

// Set caches a terminal job unless the key already holds a snapshot or a
// tombstone; non-terminal jobs are ignored
func (c *RedisStatusCache) Set(ctx context.Context, job *domain.Job) error {
	if !job.Status.IsTerminal() {
		return nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	err = c.client.SetArgs(ctx, c.key(job.ID), data, redis.SetArgs{Mode: "NX", TTL: c.ttl}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cache status: %w", err)
	}
	return nil
}

// Invalidate replaces the cached job with a tombstone that outlives any
// snapshot written by a read racing the deletion
func (c *RedisStatusCache) Invalidate(ctx context.Context, jobID string) error {
	ttl := c.ttl
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := c.client.Set(ctx, c.key(jobID), tombstone, ttl).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached status: %w", err)
	}
	return nil
}

// Nop is a StatusCache that never stores anything
type Nop struct{}

func (Nop) Get(context.Context, string) (*domain.Job, error) { return nil, nil }
func (Nop) Set(context.Context, *domain.Job) error          { return nil }
func (Nop) Invalidate(context.Context, string) error        { return nil }
