package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/docjob-queue/internal/artifact"
	"github.com/cuongbtq/docjob-queue/internal/bootstrap"
	"github.com/cuongbtq/docjob-queue/internal/config"
	"github.com/cuongbtq/docjob-queue/internal/converter"
	"github.com/cuongbtq/docjob-queue/internal/executor"
	"github.com/cuongbtq/docjob-queue/internal/worker"
	"github.com/cuongbtq/docjob-queue/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.NewDefault().Info("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID, _ = os.Hostname()
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store, err := bootstrap.InitStorage(ctx, dbClient, appLogger.Logger)
	if err != nil {
		return err
	}

	appLogger.Info("Database connection established")

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")
	}

	statusCache, closeCache, err := bootstrap.InitStatusCache(ctx, &cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer closeCache()

	files, err := artifact.NewFileStorage(cfg.Storage.RootDir, appLogger.Component("artifact"))
	if err != nil {
		return fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	exec := executor.New(files, appLogger.Component("executor"))
	exec.RegisterAll(converter.NewClient(converter.Config{
		BaseURL: cfg.Converter.BaseURL,
		Timeout: cfg.Converter.Timeout,
	}, appLogger.Component("converter")))

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:                appLogger.Component("worker"),
		Store:                 store,
		Executor:              exec,
		WorkerID:              workerID,
		PollSize:              cfg.Worker.PollSize,
		PollInterval:          cfg.Worker.PollInterval,
		JobTimeout:            cfg.Worker.JobTimeout,
		CompleteRetryAttempts: cfg.Worker.CompleteRetryAttempts,
		CompleteRetryInterval: cfg.Worker.CompleteRetryInterval,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workerInstance.Start(gctx)
	})

	if cfg.Reaper.IsEnabled() {
		reaper := worker.NewReaper(&worker.ReaperConfig{
			Logger:       appLogger.Component("reaper"),
			Store:        store,
			Resources:    exec,
			Cache:        statusCache,
			Uploads:      files,
			Interval:     cfg.Reaper.Interval,
			TTL:          cfg.Reaper.TTL,
			BatchSize:    cfg.Reaper.BatchSize,
			ErrorTTL:     cfg.Reaper.ErrorTTL,
			ClaimTimeout: cfg.Reaper.ClaimTimeout,
		})
		g.Go(func() error {
			return reaper.Start(gctx)
		})
	}

	if rabbitClient != nil {
		tag := cfg.RabbitMQ.Consumer.Tag
		if tag == "" {
			tag = workerID
		}
		consumer := worker.NewConsumer(appLogger.Component("consumer"), rabbitClient, workerInstance, tag, cfg.RabbitMQ.Consumer.PrefetchCount)
		g.Go(func() error {
			// A lost consumer degrades to polling only
			if err := consumer.Run(gctx); err != nil {
				appLogger.Warn("Notification consumer stopped, continuing with polling only",
					slog.Any("error", err),
				)
			}
			return nil
		})
	}

	appLogger.Info("Worker service started successfully")

	<-gctx.Done()
	appLogger.Info("Shutting down, waiting for running jobs to finish")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
			return err
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
