package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URI(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "default vhost and credentials",
			config: Config{Host: "rabbitmq", Port: 5672, User: "guest", Password: "guest", VHost: "/"},
			want:   "amqp://rabbitmq/",
		},
		{
			name:   "escaped password and named vhost",
			config: Config{Host: "mq", Port: 5673, User: "docjob", Password: "p@ss/word", VHost: "/jobs"},
			want:   "amqp://docjob:p%40ss%2Fword@mq:5673/jobs",
		},
		{
			name:   "zero port uses the amqp default",
			config: Config{Host: "mq", User: "docjob", Password: "secret"},
			want:   "amqp://docjob:secret@mq/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.URI())
		})
	}
}

func TestBackoff(t *testing.T) {
	b := newBackoff(10*time.Millisecond, 2)
	assert.Equal(t, 10*time.Millisecond, b.next())
	assert.Equal(t, 20*time.Millisecond, b.next())
	assert.Equal(t, 40*time.Millisecond, b.next())

	b = newBackoff(0, 0)
	assert.Equal(t, 100*time.Millisecond, b.next())
	assert.Equal(t, 200*time.Millisecond, b.next())
}

func TestClient_Disconnected(t *testing.T) {
	c := &Client{
		config: &Config{PublishRetries: 3},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	start := time.Now()
	err := c.PublishWithRetry(context.Background(), []byte(`{}`), "application/json")
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Less(t, time.Since(start), time.Second, "a closed channel is not retried")

	assert.ErrorIs(t, c.SetQos(10), ErrNotConnected)

	deliveries, err := c.Consume("worker-1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, deliveries)

	assert.NoError(t, c.Close())
}
