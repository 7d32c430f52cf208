package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// RunCycle claims up to PollSize jobs, runs them concurrently and waits for
// all of them. It returns the number of jobs started.
func (w *Worker) RunCycle(ctx context.Context) int {
	if err := w.store.HealthCheck(ctx); err != nil {
		w.logger.Warn("Job store unavailable, skipping poll cycle",
			slog.Any("error", err),
		)
		return 0
	}

	// Started jobs outlive shutdown; they only stop when they finish
	unitCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	started := 0

	for i := 0; i < w.pollSize; i++ {
		if ctx.Err() != nil {
			break
		}

		job, err := w.store.Claim(ctx)
		if errors.Is(err, domain.ErrNoQueuedJobs) {
			break
		}
		if err != nil {
			w.logger.Error("Failed to claim job",
				slog.Any("error", err),
			)
			break
		}

		if job.Status != domain.StatusQueued {
			w.logger.Warn("Claimed job is not queued, skipping",
				slog.String("job_id", job.ID),
				slog.String("status", string(job.Status)),
			)
			continue
		}

		err = w.retryWrite(unitCtx, job.ID, domain.StatusInProgress, func(ctx context.Context) error {
			return w.store.SetStatus(ctx, job.ID, domain.StatusInProgress)
		})
		if err != nil {
			w.logger.Error("Failed to mark job in progress",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			w.releaseClaim(unitCtx, job.ID)
			continue
		}
		job.Status = domain.StatusInProgress

		w.logger.Info("Job claimed successfully",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
		)

		wg.Add(1)
		started++
		go func(job *domain.Job) {
			defer wg.Done()
			w.processJob(unitCtx, job)
		}(job)
	}

	wg.Wait()

	if started > 0 {
		w.logger.Info("Poll cycle finished",
			slog.Int("jobs", started),
		)
	}
	return started
}

// releaseClaim hands a job that could not be started back to the queue. If
// that fails too, the reaper requeues it once the claim goes stale.
func (w *Worker) releaseClaim(ctx context.Context, jobID string) {
	err := w.retryWrite(ctx, jobID, domain.StatusQueued, func(ctx context.Context) error {
		return w.store.Requeue(ctx, jobID)
	})
	if err != nil {
		w.logger.Error("Failed to return job to queue",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	w.logger.Warn("Job returned to queue", slog.String("job_id", jobID))
}
