package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job is in neither the queue nor the ledger
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJobID is returned when enqueueing an ID that already exists
	ErrDuplicateJobID = errors.New("duplicate job id")

	// ErrNoQueuedJobs is returned by Claim when nothing is available
	ErrNoQueuedJobs = errors.New("no queued jobs")

	// ErrInvalidTransition is returned when a status change would move a job backwards
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPayload is returned when job settings are missing or malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownOperation is returned for a tag outside the supported set
	ErrUnknownOperation = errors.New("unknown operation type")

	// ErrStoreUnavailable is returned when the job store cannot be reached
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// RetryableError wraps transient store errors that may succeed on a later attempt
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
