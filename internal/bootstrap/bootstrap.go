// Package bootstrap builds the infrastructure clients shared by the API and
// worker services from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/docjob-queue/internal/cache"
	"github.com/cuongbtq/docjob-queue/internal/config"
	"github.com/cuongbtq/docjob-queue/internal/storage"
	"github.com/cuongbtq/docjob-queue/shared/logger"
	"github.com/cuongbtq/docjob-queue/shared/postgresql"
	"github.com/cuongbtq/docjob-queue/shared/rabbitmq"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		NoColor:      cfg.NoColor,
		TimeFormat:   time.RFC3339,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Driver:               cfg.Driver,
		Host:                 cfg.Host,
		Port:                 cfg.Port,
		User:                 cfg.User,
		Password:             cfg.Password,
		Database:             cfg.Database,
		SSLMode:              cfg.SSLMode,
		MaxOpenConns:         cfg.MaxOpenConns,
		MaxIdleConns:         cfg.MaxIdleConns,
		ConnMaxLifetime:      cfg.ConnMaxLifetime,
		ConnMaxIdleTime:      cfg.ConnMaxIdleTime,
		StartupRetryAttempts: cfg.StartupRetryAttempts,
		StartupRetryInterval: cfg.StartupRetryInterval,
	}, logger)
}

// InitStorage wraps the database client in the job store and applies migrations
func InitStorage(ctx context.Context, db *postgresql.Client, logger *slog.Logger) (*storage.Storage, error) {
	store := storage.NewStorage(db, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return store, nil
}

// InitRabbitMQ initializes the RabbitMQ client, or returns nil when disabled
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	if !cfg.Enabled {
		logger.Info("RabbitMQ disabled, workers rely on polling only")
		return nil, nil
	}

	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// InitStatusCache connects the Redis status cache. The returned close func is
// always safe to call.
func InitStatusCache(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (cache.StatusCache, func() error, error) {
	if !cfg.Enabled {
		logger.Info("Redis disabled, status reads go to the database")
		return cache.Nop{}, func() error { return nil }, nil
	}

	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connection established", slog.String("addr", client.Options().Addr))
	return cache.NewRedisStatusCache(client, cfg.KeyPrefix, cfg.StatusTTL), client.Close, nil
}

func newRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}
