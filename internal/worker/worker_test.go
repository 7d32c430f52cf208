package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docjob-queue/internal/domain"
	"github.com/cuongbtq/docjob-queue/internal/executor"
	"github.com/cuongbtq/docjob-queue/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcConverter adapts a function to executor.Converter
type funcConverter func(ctx context.Context, s executor.Settings) (string, error)

func (f funcConverter) Convert(ctx context.Context, s executor.Settings) (string, error) {
	return f(ctx, s)
}

func newExecutor(conv funcConverter) *executor.Executor {
	exec := executor.New(nil, discardLogger())
	exec.RegisterAll(conv)
	return exec
}

// unavailableStore fails health checks and counts claims
type unavailableStore struct {
	*storage.MemoryStorage
	claims atomic.Int32
}

func (s *unavailableStore) HealthCheck(context.Context) error {
	return domain.ErrStoreUnavailable
}

func (s *unavailableStore) Claim(ctx context.Context) (*domain.Job, error) {
	s.claims.Add(1)
	return s.MemoryStorage.Claim(ctx)
}

// flakyStore fails the first N terminal writes
type flakyStore struct {
	*storage.MemoryStorage
	failures atomic.Int32
}

func (s *flakyStore) CompleteSuccess(ctx context.Context, id, outputFile string) error {
	if s.failures.Add(-1) >= 0 {
		return domain.NewRetryableError(errors.New("connection reset"))
	}
	return s.MemoryStorage.CompleteSuccess(ctx, id, outputFile)
}

// startFailingStore fails SetStatus with a transient error a set number of times
type startFailingStore struct {
	*storage.MemoryStorage
	failures atomic.Int32
}

func (s *startFailingStore) SetStatus(ctx context.Context, id string, status domain.Status) error {
	if s.failures.Add(-1) >= 0 {
		return domain.NewRetryableError(domain.ErrStoreUnavailable)
	}
	return s.MemoryStorage.SetStatus(ctx, id, status)
}

// rejectingStore fails every terminal write with a non-retryable error
type rejectingStore struct {
	*storage.MemoryStorage
	writes atomic.Int32
}

func (s *rejectingStore) CompleteSuccess(context.Context, string, string) error {
	s.writes.Add(1)
	return domain.ErrInvalidTransition
}

func enqueue(t *testing.T, store *storage.MemoryStorage, id string) {
	t.Helper()
	require.NoError(t, store.Enqueue(context.Background(), &domain.Job{
		ID:      id,
		Type:    domain.OpWordToPdf,
		Message: `{"file":"input.docx"}`,
	}))
}

func newTestWorker(store JobStore, exec JobExecutor, pollSize int) *Worker {
	return NewWorker(&Config{
		Logger:                discardLogger(),
		Store:                 store,
		Executor:              exec,
		WorkerID:              "worker-test",
		PollSize:              pollSize,
		PollInterval:          time.Hour,
		CompleteRetryAttempts: 3,
		CompleteRetryInterval: time.Millisecond,
	})
}

func TestWorker_RunCycle_Success(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	enqueue(t, store, "J1")

	w := newTestWorker(store, newExecutor(func(_ context.Context, s executor.Settings) (string, error) {
		assert.Equal(t, "J1", s.Namespace())
		return "A", nil
	}), 3)

	assert.Equal(t, 1, w.RunCycle(ctx))

	job, err := store.GetByID(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, "A", job.OutputFile)
	assert.False(t, job.UpdatedTime.Before(job.CreatedTime))
}

func TestWorker_RunCycle_InvalidPassword(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	enqueue(t, store, "J2")

	w := newTestWorker(store, newExecutor(func(context.Context, executor.Settings) (string, error) {
		return "", errors.New("The password is invalid")
	}), 3)

	assert.Equal(t, 1, w.RunCycle(ctx))

	status, err := store.GetStatus(ctx, "J2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, status.Status)
	assert.Equal(t, 401, status.ErrorCode)
	assert.Equal(t, "You have passed an incorrect password", status.ErrorMessage)
}

func TestWorker_RunCycle_InvalidPayloadIsRecorded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Enqueue(ctx, &domain.Job{ID: "J3", Type: domain.OpMergePdf, Message: ""}))

	w := newTestWorker(store, newExecutor(func(context.Context, executor.Settings) (string, error) {
		t.Error("converter must not run for an empty payload")
		return "", nil
	}), 3)

	w.RunCycle(ctx)

	status, err := store.GetStatus(ctx, "J3")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, status.Status)
	assert.Equal(t, 400, status.ErrorCode)
}

func TestWorker_RunCycle_BoundedByPollSize(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	ids := []string{"J1", "J2", "J3", "J4", "J5"}
	for _, id := range ids {
		enqueue(t, store, id)
	}

	started := make(chan string, len(ids))
	release := make(chan struct{})
	w := newTestWorker(store, newExecutor(func(_ context.Context, s executor.Settings) (string, error) {
		started <- s.Namespace()
		<-release
		return "out.pdf", nil
	}), 2)

	result := make(chan int, 1)
	go func() { result <- w.RunCycle(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("jobs did not start")
		}
	}

	counts := map[domain.Status]int{}
	for _, id := range ids {
		status, err := store.GetStatus(ctx, id)
		require.NoError(t, err)
		counts[status.Status]++
	}
	assert.Equal(t, 2, counts[domain.StatusInProgress])
	assert.Equal(t, 3, counts[domain.StatusQueued])

	select {
	case n := <-result:
		t.Fatalf("cycle returned %d before its jobs finished", n)
	default:
	}

	close(release)
	assert.Equal(t, 2, <-result)
	assert.Len(t, started, 0, "no third job starts within the cycle")
}

func TestWorker_RunCycle_SkipsWhenStoreUnavailable(t *testing.T) {
	store := &unavailableStore{MemoryStorage: storage.NewMemoryStorage()}
	enqueue(t, store.MemoryStorage, "J1")

	w := newTestWorker(store, newExecutor(func(context.Context, executor.Settings) (string, error) {
		return "A", nil
	}), 3)

	assert.Equal(t, 0, w.RunCycle(context.Background()))
	assert.Equal(t, int32(0), store.claims.Load())

	status, err := store.GetStatus(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, status.Status)
}

func TestWorker_RunCycle_RecoversPanics(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	enqueue(t, store, "J1")

	w := newTestWorker(store, newExecutor(func(context.Context, executor.Settings) (string, error) {
		panic("nil map write")
	}), 3)

	w.RunCycle(ctx)

	status, err := store.GetStatus(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, status.Status)
	assert.Equal(t, 500, status.ErrorCode)
	assert.Equal(t, "job panicked: nil map write", status.ErrorMessage)
}

func TestWorker_RunCycle_JobTimeout(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	enqueue(t, store, "J1")

	w := newTestWorker(store, newExecutor(func(ctx context.Context, _ executor.Settings) (string, error) {
		<-ctx.Done()
		return "", fmt.Errorf("conversion aborted: %w", ctx.Err())
	}), 1)
	w.jobTimeout = 10 * time.Millisecond

	w.RunCycle(ctx)

	status, err := store.GetStatus(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, status.Status)
	assert.Equal(t, 504, status.ErrorCode)
}

func TestWorker_RetriesTerminalWrite(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStorage: storage.NewMemoryStorage()}
	store.failures.Store(2)
	enqueue(t, store.MemoryStorage, "J1")

	w := newTestWorker(store, newExecutor(func(context.Context, executor.Settings) (string, error) {
		return "A", nil
	}), 1)

	w.RunCycle(ctx)

	status, err := store.GetStatus(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, status.Status)
}

func TestWorker_RetriesStartTransition(t *testing.T) {
	ctx := context.Background()
	store := &startFailingStore{MemoryStorage: storage.NewMemoryStorage()}
	store.failures.Store(1)
	enqueue(t, store.MemoryStorage, "J1")

	w := newTestWorker(store, newExecutor(func(context.Context, executor.Settings) (string, error) {
		return "A", nil
	}), 1)

	assert.Equal(t, 1, w.RunCycle(ctx))

	status, err := store.GetStatus(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, status.Status)
}

func TestWorker_ReleasesClaimWhenStartCannotBeRecorded(t *testing.T) {
	ctx := context.Background()
	store := &startFailingStore{MemoryStorage: storage.NewMemoryStorage()}
	store.failures.Store(3)
	enqueue(t, store.MemoryStorage, "J1")

	w := newTestWorker(store, newExecutor(func(context.Context, executor.Settings) (string, error) {
		return "A", nil
	}), 1)

	assert.Equal(t, 0, w.RunCycle(ctx))

	claimed, err := store.Claim(ctx)
	require.NoError(t, err, "job is back in the queue")
	assert.Equal(t, "J1", claimed.ID)
	require.NoError(t, store.Requeue(ctx, "J1"))

	assert.Equal(t, 1, w.RunCycle(ctx))
	status, err := store.GetStatus(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, status.Status)
}

func TestWorker_DoesNotRetryPermanentWriteFailure(t *testing.T) {
	store := &rejectingStore{MemoryStorage: storage.NewMemoryStorage()}
	enqueue(t, store.MemoryStorage, "J1")

	w := newTestWorker(store, newExecutor(func(context.Context, executor.Settings) (string, error) {
		return "A", nil
	}), 1)

	w.RunCycle(context.Background())
	assert.Equal(t, int32(1), store.writes.Load())
}

func TestWorker_ShutdownDoesNotInterruptRunningJobs(t *testing.T) {
	store := storage.NewMemoryStorage()
	enqueue(t, store, "J1")

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	w := newTestWorker(store, newExecutor(func(ctx context.Context, _ executor.Settings) (string, error) {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return "A", nil
	}), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	<-started
	cancel()
	enqueue(t, store, "J2")
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.False(t, sawCancel.Load(), "running job saw cancellation")

	j1, err := store.GetStatus(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, j1.Status)

	j2, err := store.GetStatus(context.Background(), "J2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, j2.Status, "no cycle starts after shutdown")
}

func TestWorker_WakeStartsCycleEarly(t *testing.T) {
	store := storage.NewMemoryStorage()

	var mu sync.Mutex
	var ran []string
	w := newTestWorker(store, newExecutor(func(_ context.Context, s executor.Settings) (string, error) {
		mu.Lock()
		ran = append(ran, s.Namespace())
		mu.Unlock()
		return "A", nil
	}), 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	enqueue(t, store, "J1")
	w.Wake()

	assert.Eventually(t, func() bool {
		status, err := store.GetStatus(context.Background(), "J1")
		return err == nil && status.Status == domain.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"J1"}, ran)
}
