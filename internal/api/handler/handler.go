package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/docjob-queue/internal/api/dto"
	"github.com/cuongbtq/docjob-queue/internal/artifact"
	"github.com/cuongbtq/docjob-queue/internal/domain"
	"github.com/cuongbtq/docjob-queue/internal/jobs"
	"github.com/cuongbtq/docjob-queue/internal/storage"
)

// JobService is what the handlers need from the job service
type JobService interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	GetStatus(ctx context.Context, id string) (domain.StatusReport, error)
	List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	HealthCheck(ctx context.Context) error
}

// ArtifactStore reads and writes job input and output files
type ArtifactStore interface {
	Upload(ctx context.Context, r io.Reader, name, namespace string) (string, error)
	Open(ctx context.Context, namespace, name string) (io.ReadCloser, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Jobs      JobService
	Artifacts ArtifactStore
	// MaxUploadBytes limits upload bodies; zero means 100 MiB
	MaxUploadBytes int64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	jobs           JobService
	artifacts      ArtifactStore
	maxUploadBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 100 << 20
	}
	return &JobHandler{
		logger:         deps.Logger,
		jobs:           deps.Jobs,
		artifacts:      deps.Artifacts,
		maxUploadBytes: maxUpload,
	}
}

// writeError maps domain errors to HTTP status codes
func (h *JobHandler) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	msg := fallback

	switch {
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, artifact.ErrInvalidName):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, domain.ErrDuplicateJobID):
		status = http.StatusConflict
		msg = "job already exists"
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
		msg = "job not found"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		msg = "job store unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(fallback, slog.String("error", err.Error()))
	}
	c.JSON(status, dto.ErrorResponse{Error: msg})
}
