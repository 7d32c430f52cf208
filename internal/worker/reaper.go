package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// ReaperStore is the subset of the job store the reaper needs
type ReaperStore interface {
	HealthCheck(ctx context.Context) error
	ListExpiredCompleted(ctx context.Context, ttl time.Duration, limit int) ([]domain.Job, error)
	ListExpiredErrored(ctx context.Context, ttl time.Duration, limit int) ([]domain.Job, error)
	ListStaleClaims(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Job, error)
	Requeue(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	Delete(ctx context.Context, id string) error
}

// ResourceDeleter removes the artifacts a job produced
type ResourceDeleter interface {
	DeleteResources(ctx context.Context, job *domain.Job) error
}

// UploadNamespaces lists and removes upload directories
type UploadNamespaces interface {
	ListNamespaces(ctx context.Context, olderThan time.Duration) ([]string, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// StatusInvalidator drops cached status for a deleted job
type StatusInvalidator interface {
	Invalidate(ctx context.Context, jobID string) error
}

// ReaperConfig holds reaper configuration
type ReaperConfig struct {
	Logger    *slog.Logger
	Store     ReaperStore
	Resources ResourceDeleter
	// Cache and Uploads are optional
	Cache   StatusInvalidator
	Uploads UploadNamespaces

	Interval  time.Duration
	TTL       time.Duration
	BatchSize int
	// ErrorTTL enables a separate sweep of errored jobs; zero keeps them forever
	ErrorTTL time.Duration
	// ClaimTimeout is how long a claimed job may stay queued before it is requeued
	ClaimTimeout time.Duration
}

// Reaper deletes artifacts and ledger rows of jobs past their retention window
type Reaper struct {
	logger    *slog.Logger
	store     ReaperStore
	resources ResourceDeleter
	cache     StatusInvalidator
	uploads   UploadNamespaces
	interval  time.Duration
	ttl       time.Duration
	batchSize int
	errorTTL  time.Duration
	claimTTL  time.Duration
}

// NewReaper creates a reaper with defaults for unset values
func NewReaper(cfg *ReaperConfig) *Reaper {
	r := &Reaper{
		logger:    cfg.Logger,
		store:     cfg.Store,
		resources: cfg.Resources,
		cache:     cfg.Cache,
		uploads:   cfg.Uploads,
		interval:  cfg.Interval,
		ttl:       cfg.TTL,
		batchSize: cfg.BatchSize,
		errorTTL:  cfg.ErrorTTL,
		claimTTL:  cfg.ClaimTimeout,
	}
	if r.interval <= 0 {
		r.interval = 15 * time.Second
	}
	if r.ttl <= 0 {
		r.ttl = 30 * time.Minute
	}
	if r.batchSize <= 0 {
		r.batchSize = 10
	}
	if r.claimTTL <= 0 {
		r.claimTTL = 5 * time.Minute
	}
	return r
}

// Start runs a pass immediately and then on every tick until ctx is canceled.
// Returns nil on graceful shutdown.
func (r *Reaper) Start(ctx context.Context) error {
	r.logger.Info("Starting reaper",
		slog.Duration("interval", r.interval),
		slog.Duration("ttl", r.ttl),
		slog.Int("batch_size", r.batchSize),
		slog.Duration("error_ttl", r.errorTTL),
		slog.Duration("claim_timeout", r.claimTTL),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper stopping", slog.Any("reason", ctx.Err()))
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one reclamation pass and returns how many jobs were removed
func (r *Reaper) RunOnce(ctx context.Context) int {
	if err := r.store.HealthCheck(ctx); err != nil {
		r.logger.Warn("Job store unavailable, skipping reaper pass",
			slog.Any("error", err),
		)
		return 0
	}

	r.requeueStale(ctx)

	reaped := r.sweep(ctx, domain.StatusCompleted, r.ttl, r.store.ListExpiredCompleted)
	if r.errorTTL > 0 {
		reaped += r.sweep(ctx, domain.StatusError, r.errorTTL, r.store.ListExpiredErrored)
	}

	r.removeOrphanUploads(ctx)
	return reaped
}

// requeueStale returns jobs whose claimer never marked them in progress
func (r *Reaper) requeueStale(ctx context.Context) {
	jobs, err := r.store.ListStaleClaims(ctx, r.claimTTL, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to list stale claims", slog.Any("error", err))
		return
	}

	for i := range jobs {
		if err := r.store.Requeue(ctx, jobs[i].ID); err != nil {
			r.logger.Warn("Failed to requeue stale claim",
				slog.String("job_id", jobs[i].ID),
				slog.Any("error", err),
			)
			continue
		}
		r.logger.Warn("Stale claim returned to queue", slog.String("job_id", jobs[i].ID))
	}
}

// removeOrphanUploads deletes up to one batch of upload directories older
// than the ttl that no job row refers to
func (r *Reaper) removeOrphanUploads(ctx context.Context) {
	if r.uploads == nil {
		return
	}

	namespaces, err := r.uploads.ListNamespaces(ctx, r.ttl)
	if err != nil {
		r.logger.Error("Failed to list upload namespaces", slog.Any("error", err))
		return
	}

	removed := 0
	for _, ns := range namespaces {
		if removed == r.batchSize {
			break
		}
		_, err := r.store.GetByID(ctx, ns)
		if !errors.Is(err, domain.ErrJobNotFound) {
			if err != nil {
				r.logger.Warn("Failed to look up upload owner",
					slog.String("namespace", ns),
					slog.Any("error", err),
				)
			}
			continue
		}

		if err := r.uploads.DeleteNamespace(ctx, ns); err != nil {
			r.logger.Warn("Failed to delete orphan upload",
				slog.String("namespace", ns),
				slog.Any("error", err),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		r.logger.Info("Orphan uploads removed", slog.Int("count", removed))
	}
}

type listFunc func(ctx context.Context, ttl time.Duration, limit int) ([]domain.Job, error)

func (r *Reaper) sweep(ctx context.Context, status domain.Status, ttl time.Duration, list listFunc) int {
	jobs, err := list(ctx, ttl, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to list expired jobs",
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		return 0
	}

	reaped := 0
	for i := range jobs {
		if r.reap(ctx, &jobs[i]) {
			reaped++
		}
	}

	if reaped > 0 {
		r.logger.Info("Expired jobs removed",
			slog.String("status", string(status)),
			slog.Int("count", reaped),
		)
	}
	return reaped
}

// reap removes artifacts before the row; if artifact removal fails the row
// stays so the next pass retries it
func (r *Reaper) reap(ctx context.Context, job *domain.Job) bool {
	if err := r.resources.DeleteResources(ctx, job); err != nil {
		r.logger.Warn("Failed to delete job resources",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return false
	}

	if err := r.store.Delete(ctx, job.ID); err != nil {
		r.logger.Warn("Failed to delete job record",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return false
	}

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, job.ID); err != nil {
			r.logger.Warn("Failed to invalidate cached status",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}
	return true
}
