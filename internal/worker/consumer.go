package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// NotificationSource delivers job-enqueued notifications
type NotificationSource interface {
	SetQos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Waker is woken when new work may be available
type Waker interface {
	Wake()
}

// Consumer turns job-enqueued notifications into early poll cycles. The
// notifications are hints only: the queue table stays the source of truth.
type Consumer struct {
	logger        *slog.Logger
	source        NotificationSource
	waker         Waker
	consumerTag   string
	prefetchCount int
}

// NewConsumer creates a notification consumer
func NewConsumer(logger *slog.Logger, source NotificationSource, waker Waker, consumerTag string, prefetchCount int) *Consumer {
	if prefetchCount <= 0 {
		prefetchCount = 10
	}
	return &Consumer{
		logger:        logger,
		source:        source,
		waker:         waker,
		consumerTag:   consumerTag,
		prefetchCount: prefetchCount,
	}
}

// Run consumes notifications until ctx is canceled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.setupConsumer()
	if err != nil {
		return err
	}

	c.dispatch(ctx, deliveries)
	return nil
}

// setupConsumer sets QoS and starts consuming
func (c *Consumer) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := c.source.SetQos(c.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Notification consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("prefetch_count", c.prefetchCount),
	)
	return deliveries, nil
}

func (c *Consumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Notification consumer stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed, falling back to polling only")
				return
			}
			c.handle(delivery)
		}
	}
}

func (c *Consumer) handle(delivery amqp.Delivery) {
	var msg domain.EnqueuedMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse notification JSON",
			slog.Any("error", err),
			slog.String("body", string(delivery.Body)),
		)
		c.nack(delivery)
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		c.logger.Error("Invalid job_id in notification - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		c.nack(delivery)
		return
	}

	c.logger.Debug("Job enqueued notification received",
		slog.String("job_id", msg.JobID),
		slog.String("job_type", string(msg.Type)),
	)
	c.waker.Wake()

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK notification",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	}
}

// nack drops a malformed notification without requeueing it
func (c *Consumer) nack(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		c.logger.Error("Failed to NACK notification",
			slog.Any("error", err),
		)
	}
}
