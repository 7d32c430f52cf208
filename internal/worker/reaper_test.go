package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docjob-queue/internal/domain"
	"github.com/cuongbtq/docjob-queue/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingStore wraps the memory store and records the order of side effects
type recordingStore struct {
	*storage.MemoryStorage
	events *[]string
	down   bool
}

func (s *recordingStore) HealthCheck(ctx context.Context) error {
	if s.down {
		return domain.ErrStoreUnavailable
	}
	return s.MemoryStorage.HealthCheck(ctx)
}

func (s *recordingStore) Delete(ctx context.Context, id string) error {
	*s.events = append(*s.events, "row:"+id)
	return s.MemoryStorage.Delete(ctx, id)
}

type recordingResources struct {
	events *[]string
	fail   map[string]bool
}

func (r *recordingResources) DeleteResources(_ context.Context, job *domain.Job) error {
	if r.fail[job.ID] {
		return errors.New("permission denied")
	}
	*r.events = append(*r.events, "artifacts:"+job.ID)
	return nil
}

type recordingCache struct {
	invalidated []string
}

func (c *recordingCache) Invalidate(_ context.Context, jobID string) error {
	c.invalidated = append(c.invalidated, jobID)
	return nil
}

type reaperFixture struct {
	clock     *testClock
	mem       *storage.MemoryStorage
	store     *recordingStore
	resources *recordingResources
	cache     *recordingCache
	events    []string
}

func newReaperFixture() *reaperFixture {
	f := &reaperFixture{clock: &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}}
	f.mem = storage.NewMemoryStorage(storage.WithClock(f.clock.Now))
	f.store = &recordingStore{MemoryStorage: f.mem, events: &f.events}
	f.resources = &recordingResources{events: &f.events, fail: map[string]bool{}}
	f.cache = &recordingCache{}
	return f
}

func (f *reaperFixture) finish(t *testing.T, id string, success bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.mem.Enqueue(ctx, &domain.Job{ID: id, Type: domain.OpFlattenPdf, Message: `{"file":"a.pdf"}`}))
	_, err := f.mem.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, f.mem.SetStatus(ctx, id, domain.StatusInProgress))
	if success {
		require.NoError(t, f.mem.CompleteSuccess(ctx, id, "out.pdf"))
	} else {
		require.NoError(t, f.mem.CompleteError(ctx, id, "boom", 500))
	}
}

func (f *reaperFixture) reaper(errorTTL time.Duration) *Reaper {
	return NewReaper(&ReaperConfig{
		Logger:    discardLogger(),
		Store:     f.store,
		Resources: f.resources,
		Cache:     f.cache,
		Interval:  time.Hour,
		ErrorTTL:  errorTTL,
	})
}

func TestReaper_RunOnce_DeletesArtifactsThenRow(t *testing.T) {
	ctx := context.Background()
	f := newReaperFixture()

	f.finish(t, "old", true)
	f.finish(t, "failed", false)
	f.clock.Advance(21 * time.Minute)
	f.finish(t, "recent", true)
	f.clock.Advance(10 * time.Minute)

	r := f.reaper(0)
	assert.Equal(t, 1, r.RunOnce(ctx))

	assert.Equal(t, []string{"artifacts:old", "row:old"}, f.events)
	assert.Equal(t, []string{"old"}, f.cache.invalidated)

	_, err := f.mem.GetByID(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	for _, id := range []string{"recent", "failed"} {
		_, err := f.mem.GetByID(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestReaper_RunOnce_KeepsRowWhenArtifactDeletionFails(t *testing.T) {
	ctx := context.Background()
	f := newReaperFixture()

	f.finish(t, "stuck", true)
	f.finish(t, "ok", true)
	f.clock.Advance(time.Hour)
	f.resources.fail["stuck"] = true

	r := f.reaper(0)
	assert.Equal(t, 1, r.RunOnce(ctx))

	_, err := f.mem.GetByID(ctx, "stuck")
	require.NoError(t, err, "row stays for the next pass")
	assert.NotContains(t, f.events, "row:stuck")

	f.resources.fail["stuck"] = false
	assert.Equal(t, 1, r.RunOnce(ctx))
	_, err = f.mem.GetByID(ctx, "stuck")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestReaper_RunOnce_SkipsWhenStoreUnavailable(t *testing.T) {
	f := newReaperFixture()
	f.finish(t, "old", true)
	f.clock.Advance(time.Hour)
	f.store.down = true

	assert.Equal(t, 0, f.reaper(0).RunOnce(context.Background()))
	assert.Empty(t, f.events)
}

func TestReaper_RunOnce_BatchLimit(t *testing.T) {
	f := newReaperFixture()
	for i := 0; i < 12; i++ {
		f.finish(t, string(rune('a'+i)), true)
	}
	f.clock.Advance(time.Hour)

	r := f.reaper(0)
	assert.Equal(t, 10, r.RunOnce(context.Background()))
	assert.Equal(t, 2, r.RunOnce(context.Background()))
}

func TestReaper_RunOnce_ErrorRetention(t *testing.T) {
	ctx := context.Background()
	f := newReaperFixture()

	f.finish(t, "failed", false)
	f.clock.Advance(2 * time.Hour)

	assert.Equal(t, 0, f.reaper(0).RunOnce(ctx), "errored jobs are kept without an error ttl")
	assert.Equal(t, 0, f.reaper(3*time.Hour).RunOnce(ctx))
	assert.Equal(t, 1, f.reaper(time.Hour).RunOnce(ctx))

	_, err := f.mem.GetByID(ctx, "failed")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestReaper_StartRunsImmediatelyAndStopsOnCancel(t *testing.T) {
	f := newReaperFixture()
	f.finish(t, "old", true)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.reaper(0).Start(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := f.mem.GetByID(context.Background(), "old")
		return errors.Is(err, domain.ErrJobNotFound)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop")
	}
}

type fakeUploads struct {
	namespaces []string
	deleted    []string
}

func (u *fakeUploads) ListNamespaces(context.Context, time.Duration) ([]string, error) {
	return u.namespaces, nil
}

func (u *fakeUploads) DeleteNamespace(_ context.Context, namespace string) error {
	u.deleted = append(u.deleted, namespace)
	return nil
}

func TestReaper_RunOnce_RequeuesStaleClaims(t *testing.T) {
	ctx := context.Background()
	f := newReaperFixture()

	require.NoError(t, f.mem.Enqueue(ctx, &domain.Job{ID: "stuck", Type: domain.OpFlattenPdf, Message: `{"file":"a.pdf"}`}))
	_, err := f.mem.Claim(ctx)
	require.NoError(t, err)

	r := f.reaper(0)
	r.RunOnce(ctx)
	_, err = f.mem.Claim(ctx)
	assert.ErrorIs(t, err, domain.ErrNoQueuedJobs, "a fresh claim is left to its worker")

	f.clock.Advance(6 * time.Minute)
	r.RunOnce(ctx)

	claimed, err := f.mem.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stuck", claimed.ID)
	assert.Empty(t, f.events, "requeued jobs keep their artifacts")
}

func TestReaper_RunOnce_RemovesOrphanUploads(t *testing.T) {
	ctx := context.Background()
	f := newReaperFixture()
	f.finish(t, "live", false)

	uploads := &fakeUploads{namespaces: []string{"live", "orphan-1", "orphan-2", "orphan-3"}}
	r := NewReaper(&ReaperConfig{
		Logger:    discardLogger(),
		Store:     f.store,
		Resources: f.resources,
		Uploads:   uploads,
		BatchSize: 2,
	})

	r.RunOnce(ctx)
	assert.Equal(t, []string{"orphan-1", "orphan-2"}, uploads.deleted)

	_, err := f.mem.GetByID(ctx, "live")
	assert.NoError(t, err)
}
