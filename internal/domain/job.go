package domain

import "time"

// Job is a unit of conversion work. The same row shape is stored in the
// queue before it is claimed and in the ledger afterwards.
type Job struct {
	ID              string        `db:"id" json:"job_id"`
	Type            OperationType `db:"type" json:"type"`
	Status          Status        `db:"status" json:"status"`
	CreatedTime     time.Time     `db:"created_time" json:"created_time"`
	UpdatedTime     time.Time     `db:"updated_time" json:"updated_time"`
	Message         string        `db:"message" json:"-"`
	OutputFileName  string        `db:"output_file_name" json:"output_file_name,omitempty"`
	OutputFile      string        `db:"output_file" json:"output_file,omitempty"`
	ErrorMessage    string        `db:"error_message" json:"error_message,omitempty"`
	ErrorStatusCode int           `db:"error_status_code" json:"error_status_code,omitempty"`
}

// StatusReport is the caller-facing projection of a job's state
type StatusReport struct {
	JobID        string `json:"job_id"`
	Status       Status `json:"status"`
	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Report projects the job into a StatusReport
func (j *Job) Report() StatusReport {
	return StatusReport{
		JobID:        j.ID,
		Status:       j.Status,
		ErrorCode:    j.ErrorStatusCode,
		ErrorMessage: j.ErrorMessage,
	}
}

// EnqueuedMessage is the notification published after a job is accepted
type EnqueuedMessage struct {
	JobID string        `json:"job_id"`
	Type  OperationType `json:"type"`
}
