package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

type CreateJobRequest struct {
	UploadID       string          `json:"upload_id"`
	Type           string          `json:"type" binding:"required"`
	OutputFileName string          `json:"output_file_name"`
	Settings       json.RawMessage `json:"settings" binding:"required"`
}

type CreateJobResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	CreatedTime string `json:"created_time"`
}

type UploadResponse struct {
	UploadID string `json:"upload_id"`
	File     string `json:"file"`
}

type ListJobsRequest struct {
	Type     string `form:"type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID           string `json:"job_id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	OutputFileName  string `json:"output_file_name,omitempty"`
	OutputFile      string `json:"output_file,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ErrorStatusCode int    `json:"error_status_code,omitempty"`
	CreatedTime     string `json:"created_time"`
	UpdatedTime     string `json:"updated_time"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewJobDTO converts a job to its API representation
func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:           job.ID,
		Type:            string(job.Type),
		Status:          string(job.Status),
		OutputFileName:  job.OutputFileName,
		OutputFile:      job.OutputFile,
		ErrorMessage:    job.ErrorMessage,
		ErrorStatusCode: job.ErrorStatusCode,
		CreatedTime:     job.CreatedTime.Format(time.RFC3339),
		UpdatedTime:     job.UpdatedTime.Format(time.RFC3339),
	}
}
