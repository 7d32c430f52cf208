package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// processJob runs one claimed job and records its terminal state. Failures
// are recorded, never retried.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	start := time.Now()

	err := w.execute(ctx, job)
	if err == nil {
		w.logger.Info("Job completed successfully",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
			slog.String("output_file", job.OutputFile),
			slog.Duration("duration", time.Since(start)),
		)

		w.recordTerminal(ctx, job.ID, domain.StatusCompleted, func(ctx context.Context) error {
			return w.store.CompleteSuccess(ctx, job.ID, job.OutputFile)
		})
		return
	}

	failure := w.executor.Classify(err)
	w.logger.Error("Job execution failed",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("error_kind", string(failure.Kind)),
		slog.Int("error_code", failure.Code),
		slog.Any("error", err),
		slog.Duration("duration", time.Since(start)),
	)

	w.recordTerminal(ctx, job.ID, domain.StatusError, func(ctx context.Context) error {
		return w.store.CompleteError(ctx, job.ID, failure.Message, failure.Code)
	})
}

// execute runs the executor, turning a panic into an ordinary failure
func (w *Worker) execute(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	return w.executor.Run(ctx, job)
}

// recordTerminal writes the terminal state, logging if it cannot be stored
func (w *Worker) recordTerminal(ctx context.Context, jobID string, status domain.Status, write func(ctx context.Context) error) {
	if err := w.retryWrite(ctx, jobID, status, write); err != nil {
		w.logger.Error("Failed to record job status",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
	}
}

// retryWrite retries a store write while the store reports a transient
// failure. Every job write is idempotent.
func (w *Worker) retryWrite(ctx context.Context, jobID string, status domain.Status, write func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= w.completeRetryAttempts; attempt++ {
		err = write(ctx)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}

		w.logger.Warn("Failed to record job status, retrying",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt < w.completeRetryAttempts {
			time.Sleep(w.completeRetryInterval)
		}
	}
	return err
}
