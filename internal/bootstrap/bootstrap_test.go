package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docjob-queue/internal/cache"
	"github.com/cuongbtq/docjob-queue/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRedisClient(t *testing.T) {
	client, err := newRedisClient(&config.RedisConfig{Addr: "redis://:secret@cache:6380/2"})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "cache:6380", client.Options().Addr)
	assert.Equal(t, 2, client.Options().DB)
	assert.Equal(t, "secret", client.Options().Password)

	client, err = newRedisClient(&config.RedisConfig{Addr: " localhost:6379 ", DB: 1})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "localhost:6379", client.Options().Addr)
	assert.Equal(t, 1, client.Options().DB)

	_, err = newRedisClient(&config.RedisConfig{Addr: "redis://cache:6379/notadb"})
	assert.Error(t, err)
}

func TestDisabledIntegrations(t *testing.T) {
	rabbit, err := InitRabbitMQ(&config.RabbitMQConfig{}, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, rabbit)

	statusCache, closeFn, err := InitStatusCache(context.Background(), &config.RedisConfig{}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, cache.Nop{}, statusCache)
	assert.NoError(t, closeFn())
}

func TestInitLogger(t *testing.T) {
	l, err := InitLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
}
