package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// ErrNotConnected is returned when the client has no open channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// URI builds the AMQP connection string; credentials are escaped by amqp.URI
func (c *Config) URI() string {
	port := c.Port
	if port == 0 {
		port = 5672
	}
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	} else if vhost != "/" {
		vhost = strings.TrimPrefix(vhost, "/")
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

// Client publishes job notifications and hands deliveries to consumers over a
// single channel
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	open    bool
}

// NewClient dials the broker, declares the notification topology and starts
// watching the channel for closure
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{config: config, logger: logger}

	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopology(ch, config); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.conn, c.channel, c.open = conn, ch, true
	go c.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))

	logger.Info("RabbitMQ client initialized",
		slog.String("exchange", config.ExchangeName),
		slog.String("queue", config.QueueName),
		slog.String("routing_key", config.RoutingKey),
	)
	return c, nil
}

func (c *Client) dial() (*amqp.Connection, error) {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := max(c.config.RetryAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var conn *amqp.Connection
		conn, err = amqp.DialConfig(c.config.URI(), amqpConfig)
		if err == nil {
			c.logger.Info("Connected to RabbitMQ",
				slog.String("host", c.config.Host),
				slog.Int("attempt", attempt),
			)
			return conn, nil
		}

		c.logger.Warn("RabbitMQ dial failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)
		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
}

// declareTopology declares the exchange and queue and binds them
func declareTopology(ch *amqp.Channel, cfg *Config) error {
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.ExchangeType,
		cfg.ExchangeDurable, cfg.ExchangeAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.QueueName,
		cfg.QueueDurable, cfg.QueueAutoDelete, cfg.QueueExclusive, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// watch marks the client closed once the broker drops the channel. Publishers
// then fail fast and consumers see their delivery channel close.
func (c *Client) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed

	c.mu.Lock()
	c.open = false
	c.mu.Unlock()

	if ok && amqpErr != nil {
		c.logger.Warn("RabbitMQ channel closed",
			slog.String("reason", amqpErr.Reason),
			slog.Int("code", amqpErr.Code),
		)
	}
}

// withChannel runs fn against the open channel or fails with ErrNotConnected
func (c *Client) withChannel(fn func(ch *amqp.Channel) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.open {
		return ErrNotConnected
	}
	return fn(c.channel)
}

func (c *Client) publish(ctx context.Context, body []byte, contentType string) error {
	return c.withChannel(func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, c.config.ExchangeName, c.config.RoutingKey, false, false,
			amqp.Publishing{
				ContentType:  contentType,
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			})
	})
}

// PublishWithRetry publishes a message, backing off between failed attempts.
// A closed channel fails immediately.
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := newBackoff(c.config.PublishRetryDelay, c.config.PublishBackoffMult)

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = c.publish(ctx, body, contentType); err == nil {
			if attempt > 0 {
				c.logger.Info("Notification published after retry",
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}
		if errors.Is(err, ErrNotConnected) || attempt == retries {
			break
		}

		delay := backoff.next()
		c.logger.Warn("Failed to publish notification, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	if errors.Is(err, ErrNotConnected) {
		return err
	}
	return fmt.Errorf("failed to publish message after %d attempts: %w", retries+1, err)
}

// SetQos limits unacknowledged deliveries per consumer
func (c *Client) SetQos(prefetchCount int) error {
	return c.withChannel(func(ch *amqp.Channel) error {
		return ch.Qos(prefetchCount, 0, false)
	})
}

// Consume starts a manual-ack consumer on the notification queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := c.withChannel(func(ch *amqp.Channel) error {
		var err error
		deliveries, err = ch.Consume(c.config.QueueName, consumerTag, false, false, false, false, nil)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}
	return deliveries, err
}

// Close closes the channel and the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Error("Failed to close RabbitMQ client", slog.Any("error", err))
		return err
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// backoff yields exponentially growing delays
type backoff struct {
	delay time.Duration
	mult  float64
}

func newBackoff(base time.Duration, mult float64) *backoff {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if mult < 1 {
		mult = 2
	}
	return &backoff{delay: base, mult: mult}
}

func (b *backoff) next() time.Duration {
	d := b.delay
	b.delay = time.Duration(float64(b.delay) * b.mult)
	return d
}
