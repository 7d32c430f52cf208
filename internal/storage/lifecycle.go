package storage

import (
	"fmt"
	"time"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// JobFilter narrows a List call
type JobFilter struct {
	Type     domain.OperationType
	Status   domain.Status
	PageSize int
	Cursor   *JobCursor
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	CreatedTime time.Time
	ID          string
}

// prepareEnqueue resets a job to its initial queued state
func prepareEnqueue(job *domain.Job, now time.Time) {
	job.Status = domain.StatusQueued
	if job.CreatedTime.IsZero() {
		job.CreatedTime = now
	}
	job.CreatedTime = job.CreatedTime.UTC()
	job.UpdatedTime = clampUpdated(now, job.CreatedTime)
	job.OutputFile = ""
	job.ErrorMessage = ""
	job.ErrorStatusCode = 0
}

// clampUpdated keeps UpdatedTime from falling behind CreatedTime under clock skew
func clampUpdated(now, created time.Time) time.Time {
	if now.Before(created) {
		return created
	}
	return now
}

func applySuccess(job *domain.Job, outputFile string) (bool, error) {
	if job.Status == domain.StatusCompleted && job.OutputFile == outputFile {
		return false, nil
	}
	if !domain.CanTransition(job.Status, domain.StatusCompleted) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, domain.StatusCompleted)
	}
	job.Status = domain.StatusCompleted
	job.OutputFile = outputFile
	return true, nil
}

func applyError(job *domain.Job, message string, code int) (bool, error) {
	if job.Status == domain.StatusError && job.ErrorMessage == message && job.ErrorStatusCode == code {
		return false, nil
	}
	if !domain.CanTransition(job.Status, domain.StatusError) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, domain.StatusError)
	}
	job.Status = domain.StatusError
	job.ErrorMessage = message
	job.ErrorStatusCode = code
	return true, nil
}
