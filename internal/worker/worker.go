package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// JobStore is the subset of the job store the poller needs
type JobStore interface {
	Claim(ctx context.Context) (*domain.Job, error)
	SetStatus(ctx context.Context, id string, status domain.Status) error
	Requeue(ctx context.Context, id string) error
	CompleteSuccess(ctx context.Context, id, outputFile string) error
	CompleteError(ctx context.Context, id, message string, code int) error
	HealthCheck(ctx context.Context) error
}

// JobExecutor runs a claimed job and classifies its failures
type JobExecutor interface {
	Run(ctx context.Context, job *domain.Job) error
	Classify(err error) domain.Failure
}

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Store    JobStore
	Executor JobExecutor
	WorkerID string

	// PollSize bounds how many jobs one cycle claims and runs concurrently
	PollSize     int
	PollInterval time.Duration
	// JobTimeout bounds a single conversion; zero means no limit
	JobTimeout time.Duration

	CompleteRetryAttempts int
	CompleteRetryInterval time.Duration
}

// Worker polls the queue, runs each batch of claimed jobs concurrently and
// waits for the whole batch before polling again.
type Worker struct {
	logger   *slog.Logger
	store    JobStore
	executor JobExecutor
	workerID string

	pollSize     int
	pollInterval time.Duration
	jobTimeout   time.Duration

	completeRetryAttempts int
	completeRetryInterval time.Duration

	wake chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	pollSize := cfg.PollSize
	if pollSize <= 0 {
		pollSize = 3
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	attempts := cfg.CompleteRetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return &Worker{
		logger:                cfg.Logger.With(slog.String("worker_id", cfg.WorkerID)),
		store:                 cfg.Store,
		executor:              cfg.Executor,
		workerID:              cfg.WorkerID,
		pollSize:              pollSize,
		pollInterval:          pollInterval,
		jobTimeout:            cfg.JobTimeout,
		completeRetryAttempts: attempts,
		completeRetryInterval: cfg.CompleteRetryInterval,
		wake:                  make(chan struct{}, 1),
	}
}

// Start runs poll cycles until ctx is canceled. A cycle in progress always
// finishes; jobs already started are never interrupted.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("poll_size", w.pollSize),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker stopped polling")
			return nil
		}

		w.RunCycle(ctx)

		timer := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-w.wake:
			timer.Stop()
			w.logger.Debug("Worker woken early")
		case <-timer.C:
		}
	}
}

// Wake starts the next cycle without waiting for the poll interval
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
