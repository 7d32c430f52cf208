package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/docjob-queue/internal/api/dto"
	"github.com/cuongbtq/docjob-queue/internal/artifact"
	"github.com/cuongbtq/docjob-queue/internal/domain"
	"github.com/cuongbtq/docjob-queue/internal/jobs"
	"github.com/cuongbtq/docjob-queue/internal/storage"
)

// UploadFile handles POST /api/v1/uploads
// Stores the raw request body as an input file. The returned upload_id is the
// namespace the file lives in and becomes the job ID when passed to CreateJob.
func (h *JobHandler) UploadFile(c *gin.Context) {
	name := c.GetHeader("X-File-Name")
	if name == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "X-File-Name header is required"})
		return
	}

	uploadID := c.Query("upload_id")
	if uploadID == "" {
		uploadID = uuid.NewString()
	} else if _, err := uuid.Parse(uploadID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "upload_id must be a valid UUID"})
		return
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	stored, err := h.artifacts.Upload(c.Request.Context(), body, name, uploadID)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "file too large"})
			return
		}
		h.writeError(c, err, "Failed to store upload")
		return
	}

	h.logger.Info("File uploaded",
		slog.String("upload_id", uploadID),
		slog.String("file", stored),
	)
	c.JSON(http.StatusCreated, dto.UploadResponse{UploadID: uploadID, File: stored})
}

// CreateJob handles POST /api/v1/jobs
// Validates the settings and enqueues a conversion job
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	job, err := h.jobs.Enqueue(c.Request.Context(), jobs.EnqueueRequest{
		ID:             req.UploadID,
		Type:           domain.OperationType(req.Type),
		OutputFileName: req.OutputFileName,
		Settings:       req.Settings,
	})
	if err != nil {
		h.writeError(c, err, "Failed to create job")
		return
	}

	c.JSON(http.StatusCreated, dto.CreateJobResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		CreatedTime: job.CreatedTime.Format(time.RFC3339),
	})
}

// GetJobStatus handles GET /api/v1/jobs/:job_id/status
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	report, err := h.jobs.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, "Failed to get job status")
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, "Failed to get job")
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// DownloadOutput handles GET /api/v1/jobs/:job_id/output
// Streams the converted file of a completed job
func (h *JobHandler) DownloadOutput(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, "Failed to get job")
		return
	}
	if job.Status != domain.StatusCompleted {
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: fmt.Sprintf("job is %s, output not available", job.Status),
		})
		return
	}

	rc, err := h.artifacts.Open(c.Request.Context(), job.ID, job.OutputFile)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			c.JSON(http.StatusGone, dto.ErrorResponse{Error: "output file has expired"})
			return
		}
		h.writeError(c, err, "Failed to open output file")
		return
	}
	defer rc.Close()

	name := job.OutputFileName
	if name == "" {
		name = job.OutputFile
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.logger.Warn("Output download interrupted",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	list, err := h.jobs.List(c.Request.Context(), storage.JobFilter{
		Type:     domain.OperationType(req.Type),
		Status:   domain.Status(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.writeError(c, err, "Failed to list jobs")
		return
	}

	hasMore := len(list) > req.PageSize
	if hasMore {
		list = list[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(list))}
	for i := range list {
		resp.Jobs[i] = dto.NewJobDTO(&list[i])
	}

	if hasMore {
		last := list[len(list)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedTime: last.CreatedTime,
			ID:          last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// HealthCheck handles GET /health
func (h *JobHandler) HealthCheck(c *gin.Context) {
	if err := h.jobs.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "docjob-api-service",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "docjob-api-service",
	})
}

func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}
