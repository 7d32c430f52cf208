package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/docjob-queue/internal/domain"
	"github.com/cuongbtq/docjob-queue/shared/postgresql"
)

const jobColumns = `id, type, status, created_time, updated_time, message,
	output_file_name, output_file, error_message, error_status_code`

// touchedColumns copies a job row, stamping updated_time with the timestamp in $2
const touchedColumns = `id, type, status, created_time, GREATEST($2::timestamptz, created_time), message,
	output_file_name, output_file, error_message, error_status_code`

// Storage keeps unclaimed jobs in job_queue and claimed jobs in job_ledger
type Storage struct {
	pg     *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a store
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for timestamps and expiry cutoffs
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger, opts ...Option) *Storage {
	o := buildOptions(opts)
	return &Storage{
		pg:     pg,
		db:     pg.GetDB(),
		logger: logger,
		now:    func() time.Time { return o.now().UTC() },
	}
}

// Enqueue inserts a job into the queue with status queued
func (s *Storage) Enqueue(ctx context.Context, job *domain.Job) error {
	prepareEnqueue(job, s.now())

	err := s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO job_queue (`+jobColumns+`)
			VALUES (
				:id, :type, :status, :created_time, :updated_time, :message,
				:output_file_name, :output_file, :error_message, :error_status_code
			)
		`, job)
		if err != nil {
			if postgresql.IsUniqueViolation(err) {
				return domain.ErrDuplicateJobID
			}
			return fmt.Errorf("failed to insert job: %w", err)
		}

		var claimed bool
		if err := tx.GetContext(ctx, &claimed, `SELECT EXISTS(SELECT 1 FROM job_ledger WHERE id = $1)`, job.ID); err != nil {
			return fmt.Errorf("failed to check ledger: %w", err)
		}
		if claimed {
			return domain.ErrDuplicateJobID
		}
		return nil
	})
	if err != nil {
		return s.classify(err)
	}

	s.logger.Debug("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)
	return nil
}

// Claim atomically moves the oldest available queued job into the ledger and
// stamps the claim time. Rows locked by a concurrent claimer are skipped, never waited on.
func (s *Storage) Claim(ctx context.Context) (*domain.Job, error) {
	query := `
		WITH claimed AS (
			DELETE FROM job_queue
			WHERE id = (
				SELECT id FROM job_queue
				WHERE status = $1
				ORDER BY created_time
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING ` + jobColumns + `
		)
		INSERT INTO job_ledger (` + jobColumns + `)
		SELECT ` + touchedColumns + ` FROM claimed
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.StatusQueued, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoQueuedJobs
		}
		return nil, s.classify(fmt.Errorf("failed to claim job: %w", err))
	}

	s.logger.Debug("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)
	return &job, nil
}

// Requeue moves a claimed job that never started back into the queue. A job
// that is already queued again is left alone.
func (s *Storage) Requeue(ctx context.Context, id string) error {
	query := `
		WITH released AS (
			DELETE FROM job_ledger
			WHERE id = $1 AND status = $3
			RETURNING ` + jobColumns + `
		)
		INSERT INTO job_queue (` + jobColumns + `)
		SELECT ` + touchedColumns + ` FROM released
	`

	res, err := s.db.ExecContext(ctx, query, id, s.now(), domain.StatusQueued)
	if err != nil {
		return s.classify(fmt.Errorf("failed to requeue job: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("Job returned to queue", slog.String("job_id", id))
		return nil
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusQueued {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, domain.StatusQueued)
	}
	return nil
}

// SetStatus moves a claimed job forward. Setting the current status again is a no-op.
func (s *Storage) SetStatus(ctx context.Context, id string, status domain.Status) error {
	return s.updateLedger(ctx, id, func(job *domain.Job) (bool, error) {
		if job.Status == status {
			return false, nil
		}
		if !domain.CanTransition(job.Status, status) {
			return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, status)
		}
		job.Status = status
		return true, nil
	})
}

// CompleteSuccess records a successful conversion
func (s *Storage) CompleteSuccess(ctx context.Context, id, outputFile string) error {
	return s.updateLedger(ctx, id, func(job *domain.Job) (bool, error) {
		return applySuccess(job, outputFile)
	})
}

// CompleteError records a failed conversion
func (s *Storage) CompleteError(ctx context.Context, id, message string, code int) error {
	return s.updateLedger(ctx, id, func(job *domain.Job) (bool, error) {
		return applyError(job, message, code)
	})
}

// updateLedger locks the ledger row, lets mutate decide the change, and writes it back
func (s *Storage) updateLedger(ctx context.Context, id string, mutate func(job *domain.Job) (bool, error)) error {
	err := s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		var job domain.Job
		err := tx.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM job_ledger WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrJobNotFound
			}
			return fmt.Errorf("failed to lock job: %w", err)
		}

		changed, err := mutate(&job)
		if err != nil || !changed {
			return err
		}
		job.UpdatedTime = clampUpdated(s.now(), job.CreatedTime)

		_, err = tx.NamedExecContext(ctx, `
			UPDATE job_ledger
			SET status = :status,
			    updated_time = :updated_time,
			    output_file = :output_file,
			    error_message = :error_message,
			    error_status_code = :error_status_code
			WHERE id = :id
		`, &job)
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		s.logger.Info("Job status updated",
			slog.String("job_id", id),
			slog.String("status", string(job.Status)),
		)
		return nil
	})
	return s.classify(err)
}

// GetByID returns the job from the ledger, falling back to the queue
func (s *Storage) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	for _, table := range []string{"job_ledger", "job_queue"} {
		var job domain.Job
		err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM `+table+` WHERE id = $1`, id)
		if err == nil {
			return &job, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, s.classify(fmt.Errorf("failed to get job: %w", err))
		}
	}
	return nil, domain.ErrJobNotFound
}

// GetStatus returns the caller-facing status of a job
func (s *Storage) GetStatus(ctx context.Context, id string) (domain.StatusReport, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.StatusReport{}, err
	}
	return job.Report(), nil
}

// ListExpiredCompleted returns completed jobs last updated more than ttl ago, oldest first
func (s *Storage) ListExpiredCompleted(ctx context.Context, ttl time.Duration, limit int) ([]domain.Job, error) {
	return s.listExpired(ctx, domain.StatusCompleted, ttl, limit)
}

// ListExpiredErrored returns errored jobs last updated more than ttl ago, oldest first
func (s *Storage) ListExpiredErrored(ctx context.Context, ttl time.Duration, limit int) ([]domain.Job, error) {
	return s.listExpired(ctx, domain.StatusError, ttl, limit)
}

// ListStaleClaims returns claimed jobs still queued more than olderThan after their claim
func (s *Storage) ListStaleClaims(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Job, error) {
	return s.listExpired(ctx, domain.StatusQueued, olderThan, limit)
}

func (s *Storage) listExpired(ctx context.Context, status domain.Status, ttl time.Duration, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM job_ledger
		WHERE status = $1 AND updated_time < $2
		ORDER BY updated_time
		LIMIT $3
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, status, s.now().Add(-ttl), limit); err != nil {
		return nil, s.classify(fmt.Errorf("failed to list expired jobs: %w", err))
	}
	return jobs, nil
}

// Delete removes a job from the ledger. Deleting a missing job is not an error.
func (s *Storage) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_ledger WHERE id = $1`, id); err != nil {
		return s.classify(fmt.Errorf("failed to delete job: %w", err))
	}
	return nil
}

// HealthCheck reports whether the store is reachable
func (s *Storage) HealthCheck(ctx context.Context) error {
	if err := s.pg.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// List returns jobs from both the queue and the ledger, newest first
func (s *Storage) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM (
			SELECT ` + jobColumns + ` FROM job_queue
			UNION ALL
			SELECT ` + jobColumns + ` FROM job_ledger
		) AS jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_time, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedTime, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_time DESC, id DESC"

	// One extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, s.classify(fmt.Errorf("failed to list jobs: %w", err))
	}
	return jobs, nil
}

// classify marks connection-level failures as StoreUnavailable and retryable
func (s *Storage) classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		errors.As(err, &netErr) || postgresql.IsStartingUp(err) {
		return domain.NewRetryableError(fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
	}
	return err
}
