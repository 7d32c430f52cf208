package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/docjob-queue/internal/domain"
)

// MemoryStorage is an in-process store with the same semantics as Storage.
// A single mutex makes every operation atomic, so Claim is exclusive.
type MemoryStorage struct {
	mu     sync.Mutex
	queue  map[string]*queuedJob
	ledger map[string]*domain.Job
	seq    uint64
	now    func() time.Time
}

type queuedJob struct {
	job domain.Job
	seq uint64
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	o := buildOptions(opts)
	return &MemoryStorage{
		queue:  make(map[string]*queuedJob),
		ledger: make(map[string]*domain.Job),
		now:    func() time.Time { return o.now().UTC() },
	}
}

// Enqueue inserts a job into the queue with status queued
func (m *MemoryStorage) Enqueue(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queue[job.ID]; ok {
		return domain.ErrDuplicateJobID
	}
	if _, ok := m.ledger[job.ID]; ok {
		return domain.ErrDuplicateJobID
	}

	prepareEnqueue(job, m.now())
	m.seq++
	m.queue[job.ID] = &queuedJob{job: *job, seq: m.seq}
	return nil
}

// Claim moves the oldest queued job into the ledger
func (m *MemoryStorage) Claim(_ context.Context) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *queuedJob
	for _, q := range m.queue {
		if q.job.Status != domain.StatusQueued {
			continue
		}
		if next == nil || q.job.CreatedTime.Before(next.job.CreatedTime) ||
			(q.job.CreatedTime.Equal(next.job.CreatedTime) && q.seq < next.seq) {
			next = q
		}
	}
	if next == nil {
		return nil, domain.ErrNoQueuedJobs
	}

	delete(m.queue, next.job.ID)
	job := next.job
	job.UpdatedTime = clampUpdated(m.now(), job.CreatedTime)
	m.ledger[job.ID] = &job

	claimed := job
	return &claimed, nil
}

// Requeue moves a claimed job that never started back into the queue
func (m *MemoryStorage) Requeue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.ledger[id]
	if !ok {
		if _, queued := m.queue[id]; queued {
			return nil
		}
		return domain.ErrJobNotFound
	}
	if job.Status != domain.StatusQueued {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, domain.StatusQueued)
	}

	released := *job
	released.UpdatedTime = clampUpdated(m.now(), released.CreatedTime)
	delete(m.ledger, id)
	m.seq++
	m.queue[id] = &queuedJob{job: released, seq: m.seq}
	return nil
}

// SetStatus moves a claimed job forward. Setting the current status again is a no-op.
func (m *MemoryStorage) SetStatus(_ context.Context, id string, status domain.Status) error {
	return m.updateLedger(id, func(job *domain.Job) (bool, error) {
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
func (m *MemoryStorage) CompleteSuccess(_ context.Context, id, outputFile string) error {
	return m.updateLedger(id, func(job *domain.Job) (bool, error) {
		return applySuccess(job, outputFile)
	})
}

// CompleteError records a failed conversion
func (m *MemoryStorage) CompleteError(_ context.Context, id, message string, code int) error {
	return m.updateLedger(id, func(job *domain.Job) (bool, error) {
		return applyError(job, message, code)
	})
}

func (m *MemoryStorage) updateLedger(id string, mutate func(job *domain.Job) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.ledger[id]
	if !ok {
		return domain.ErrJobNotFound
	}

	job := *stored
	changed, err := mutate(&job)
	if err != nil || !changed {
		return err
	}
	job.UpdatedTime = clampUpdated(m.now(), job.CreatedTime)
	m.ledger[id] = &job
	return nil
}

// GetByID returns the job from the ledger, falling back to the queue
func (m *MemoryStorage) GetByID(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.ledger[id]; ok {
		found := *job
		return &found, nil
	}
	if q, ok := m.queue[id]; ok {
		found := q.job
		return &found, nil
	}
	return nil, domain.ErrJobNotFound
}

// GetStatus returns the caller-facing status of a job
func (m *MemoryStorage) GetStatus(ctx context.Context, id string) (domain.StatusReport, error) {
	job, err := m.GetByID(ctx, id)
	if err != nil {
		return domain.StatusReport{}, err
	}
	return job.Report(), nil
}

// ListExpiredCompleted returns completed jobs last updated more than ttl ago, oldest first
func (m *MemoryStorage) ListExpiredCompleted(_ context.Context, ttl time.Duration, limit int) ([]domain.Job, error) {
	return m.listExpired(domain.StatusCompleted, ttl, limit), nil
}

// ListExpiredErrored returns errored jobs last updated more than ttl ago, oldest first
func (m *MemoryStorage) ListExpiredErrored(_ context.Context, ttl time.Duration, limit int) ([]domain.Job, error) {
	return m.listExpired(domain.StatusError, ttl, limit), nil
}

// ListStaleClaims returns claimed jobs still queued more than olderThan after their claim
func (m *MemoryStorage) ListStaleClaims(_ context.Context, olderThan time.Duration, limit int) ([]domain.Job, error) {
	return m.listExpired(domain.StatusQueued, olderThan, limit), nil
}

func (m *MemoryStorage) listExpired(status domain.Status, ttl time.Duration, limit int) []domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	var jobs []domain.Job
	for _, job := range m.ledger {
		if job.Status == status && job.UpdatedTime.Before(cutoff) {
			jobs = append(jobs, *job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UpdatedTime.Before(jobs[j].UpdatedTime)
	})
	if limit >= 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// Delete removes a job from the ledger. Deleting a missing job is not an error.
func (m *MemoryStorage) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ledger, id)
	return nil
}

// HealthCheck always succeeds for the in-memory store
func (m *MemoryStorage) HealthCheck(_ context.Context) error {
	return nil
}

// List returns jobs from both the queue and the ledger, newest first
func (m *MemoryStorage) List(_ context.Context, filter JobFilter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]domain.Job, 0, len(m.queue)+len(m.ledger))
	for _, q := range m.queue {
		all = append(all, q.job)
	}
	for _, job := range m.ledger {
		all = append(all, *job)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedTime.Equal(all[j].CreatedTime) {
			return all[i].CreatedTime.After(all[j].CreatedTime)
		}
		return all[i].ID > all[j].ID
	})

	jobs := make([]domain.Job, 0, filter.PageSize+1)
	for _, job := range all {
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !beforeCursor(job, filter.Cursor) {
			continue
		}
		jobs = append(jobs, job)
		if len(jobs) == filter.PageSize+1 {
			break
		}
	}
	return jobs, nil
}

func beforeCursor(job domain.Job, cursor *JobCursor) bool {
	if job.CreatedTime.Equal(cursor.CreatedTime) {
		return job.ID < cursor.ID
	}
	return job.CreatedTime.Before(cursor.CreatedTime)
}
