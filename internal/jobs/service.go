package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/docjob-queue/internal/cache"
	"github.com/cuongbtq/docjob-queue/internal/domain"
	"github.com/cuongbtq/docjob-queue/internal/executor"
	"github.com/cuongbtq/docjob-queue/internal/storage"
)

// Store is the subset of the job store the API side needs
type Store interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	HealthCheck(ctx context.Context) error
}

// Notifier publishes job.enqueued notifications
type Notifier interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// UploadCleaner removes the upload namespace of a rejected job
type UploadCleaner interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Option configures a Service
type Option func(*Service)

// WithUploadCleaner discards uploads whose job request was rejected
func WithUploadCleaner(u UploadCleaner) Option {
	return func(s *Service) { s.uploads = u }
}

// EnqueueRequest describes a job to submit
type EnqueueRequest struct {
	// ID is optional; an upload namespace is reused as the job ID
	ID             string
	Type           domain.OperationType
	OutputFileName string
	Settings       json.RawMessage
}

// Service accepts jobs and answers status queries
type Service struct {
	logger   *slog.Logger
	store    Store
	cache    cache.StatusCache
	notifier Notifier
	uploads  UploadCleaner
	now      func() time.Time
}

// NewService creates a job service. cache and notifier may be nil.
func NewService(store Store, statusCache cache.StatusCache, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	if statusCache == nil {
		statusCache = cache.Nop{}
	}
	s := &Service{
		logger:   logger,
		store:    store,
		cache:    statusCache,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue validates the request, stores a queued job and notifies workers.
// When a request naming an upload is rejected, the upload is discarded.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	job, err := s.enqueue(ctx, req)
	if err != nil {
		s.discardUpload(ctx, req.ID, err)
		return nil, err
	}
	return job, nil
}

func (s *Service) enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %w: %q", domain.ErrInvalidPayload, domain.ErrUnknownOperation, req.Type)
	}
	if _, err := executor.DecodeSettings(req.Type, string(req.Settings)); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: job id must be a valid UUID", domain.ErrInvalidPayload)
	}

	now := s.now().UTC()
	outputName := req.OutputFileName
	if outputName == "" {
		outputName = fmt.Sprintf("%s_%s.pdf", strings.ToLower(string(req.Type)), now.Format("20060102150405"))
	} else if filepath.Base(outputName) != outputName || outputName == "." || outputName == ".." {
		return nil, fmt.Errorf("%w: invalid output file name %q", domain.ErrInvalidPayload, outputName)
	}

	job := &domain.Job{
		ID:             id,
		Type:           req.Type,
		CreatedTime:    now,
		Message:        string(req.Settings),
		OutputFileName: outputName,
	}
	if err := s.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
	)
	s.notify(ctx, job)
	return job, nil
}

// discardUpload removes the namespace of a rejected request unless a job
// already owns it. Store failures leave it to the reaper's orphan sweep.
func (s *Service) discardUpload(ctx context.Context, namespace string, cause error) {
	if s.uploads == nil || namespace == "" || !errors.Is(cause, domain.ErrInvalidPayload) {
		return
	}
	if _, err := uuid.Parse(namespace); err != nil {
		return
	}
	if _, err := s.store.GetByID(ctx, namespace); !errors.Is(err, domain.ErrJobNotFound) {
		return
	}

	if err := s.uploads.DeleteNamespace(ctx, namespace); err != nil {
		s.logger.Warn("Failed to discard upload of rejected job",
			slog.String("upload_id", namespace),
			slog.Any("error", err),
		)
		return
	}
	s.logger.Info("Discarded upload of rejected job", slog.String("upload_id", namespace))
}

// notify is best-effort; the job is durable and the poller finds it anyway
func (s *Service) notify(ctx context.Context, job *domain.Job) {
	if s.notifier == nil {
		return
	}

	body, err := json.Marshal(domain.EnqueuedMessage{JobID: job.ID, Type: job.Type})
	if err != nil {
		s.logger.Error("Failed to encode notification", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	if err := s.notifier.PublishWithRetry(ctx, body, "application/json"); err != nil {
		s.logger.Warn("Failed to publish job notification",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}

// Get returns a job from the cache when it is terminal, otherwise from the store
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	cached, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn("Status cache read failed", slog.String("job_id", id), slog.Any("error", err))
	}
	if cached != nil {
		return cached, nil
	}

	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		if err := s.cache.Set(ctx, job); err != nil {
			s.logger.Warn("Status cache write failed", slog.String("job_id", id), slog.Any("error", err))
		}
	}
	return job, nil
}

// GetStatus returns the caller-facing status of a job
func (s *Service) GetStatus(ctx context.Context, id string) (domain.StatusReport, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return domain.StatusReport{}, err
	}
	return job.Report(), nil
}

// List returns a page of jobs; the store returns one extra row when more exist
func (s *Service) List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidPayload, filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: %w: %q", domain.ErrInvalidPayload, domain.ErrUnknownOperation, filter.Type)
	}
	return s.store.List(ctx, filter)
}

// HealthCheck reports whether the job store is reachable
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}
