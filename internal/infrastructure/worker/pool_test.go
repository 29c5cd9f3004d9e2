package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compliancesync/backend/internal/application/jobs"
	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/compliancesync/backend/internal/infrastructure/queue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *queue.MemoryQueue, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue(queue.DefaultConfig(), queue.WithClock(clock.Now))
	return NewPool(cfg, q, zap.NewNop()), q, clock
}

func enqueue(t *testing.T, q queue.Queue, typ jobs.Type) *jobs.Job {
	t.Helper()
	job, err := jobs.New(typ, uuid.New(), jobs.ExportPayload{ExportID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), job))
	return job
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{BaseBackoff: 2 * time.Second, MaxBackoff: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPool_Outcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("success acknowledges", func(t *testing.T) {
		pool, q, _ := newTestPool(t, DefaultConfig())
		var calls atomic.Int32
		require.NoError(t, pool.Register(jobs.TypeExportGenerate, func(ctx context.Context, job *jobs.Job) error {
			calls.Add(1)
			return nil
		}))
		enqueue(t, q, jobs.TypeExportGenerate)

		found, err := pool.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int32(1), calls.Load())

		depths, err := q.Depths(ctx)
		require.NoError(t, err)
		for state, n := range depths {
			assert.Zero(t, n, state)
		}
	})

	t.Run("permanent error dead-letters immediately", func(t *testing.T) {
		pool, q, _ := newTestPool(t, DefaultConfig())
		require.NoError(t, pool.Register(jobs.TypeSyncSnapshot, func(ctx context.Context, job *jobs.Job) error {
			return shared.ErrInvalidInput.WithMessage("bad snapshot")
		}))
		enqueue(t, q, jobs.TypeSyncSnapshot)

		_, err := pool.ProcessNext(ctx)
		require.NoError(t, err)

		dead := q.DeadLetters()
		require.Len(t, dead, 1)
		assert.Contains(t, dead[0].Reason, "bad snapshot")
		assert.Equal(t, 1, dead[0].Attempts)
	})

	t.Run("transient error retries with backoff until exhausted", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxAttempts = 3
		cfg.BaseBackoff = time.Second
		cfg.MaxBackoff = time.Minute
		pool, q, clock := newTestPool(t, cfg)

		var calls atomic.Int32
		require.NoError(t, pool.Register(jobs.TypeSyncSnapshot, func(ctx context.Context, job *jobs.Job) error {
			calls.Add(1)
			return shared.ErrPlatformUnavailable
		}))
		job := enqueue(t, q, jobs.TypeSyncSnapshot)

		_, err := pool.ProcessNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, shared.ErrPlatformUnavailable.Error(), q.LastError(job.ID))

		// not due yet
		found, err := pool.ProcessNext(ctx)
		require.NoError(t, err)
		assert.False(t, found)

		clock.Advance(time.Second)
		found, err = pool.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, found)

		clock.Advance(time.Second)
		found, err = pool.ProcessNext(ctx)
		require.NoError(t, err)
		assert.False(t, found, "second retry waits 2s")

		clock.Advance(time.Second)
		found, err = pool.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, found)

		assert.Equal(t, int32(3), calls.Load())
		dead := q.DeadLetters()
		require.Len(t, dead, 1)
		assert.Contains(t, dead[0].Reason, "attempts exhausted")
		assert.Equal(t, 3, dead[0].Attempts)
	})

	t.Run("unclassified error is retried", func(t *testing.T) {
		pool, q, _ := newTestPool(t, DefaultConfig())
		require.NoError(t, pool.Register(jobs.TypeSyncDelete, func(ctx context.Context, job *jobs.Job) error {
			return errors.New("connection reset")
		}))
		enqueue(t, q, jobs.TypeSyncDelete)

		_, err := pool.ProcessNext(ctx)
		require.NoError(t, err)

		depths, err := q.Depths(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), depths[queue.StateDelayed])
		assert.Empty(t, q.DeadLetters())
	})

	t.Run("panic is recovered and retried", func(t *testing.T) {
		pool, q, _ := newTestPool(t, DefaultConfig())
		require.NoError(t, pool.Register(jobs.TypeReconcileTenant, func(ctx context.Context, job *jobs.Job) error {
			panic("nil map")
		}))
		job := enqueue(t, q, jobs.TypeReconcileTenant)

		_, err := pool.ProcessNext(ctx)
		require.NoError(t, err)

		assert.Contains(t, q.LastError(job.ID), "nil map")
		depths, err := q.Depths(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), depths[queue.StateDelayed])
	})

	t.Run("job without handler is dead-lettered", func(t *testing.T) {
		pool, q, _ := newTestPool(t, DefaultConfig())
		require.NoError(t, pool.Register(jobs.TypeSyncSnapshot, func(ctx context.Context, job *jobs.Job) error { return nil }))
		enqueue(t, q, jobs.TypeExportGenerate)

		_, err := pool.ProcessNext(ctx)
		require.NoError(t, err)
		require.Len(t, q.DeadLetters(), 1)
	})

	t.Run("handler runs under its type timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Timeouts = map[jobs.Type]time.Duration{jobs.TypeSyncSnapshot: 20 * time.Millisecond}
		pool, q, _ := newTestPool(t, cfg)
		require.NoError(t, pool.Register(jobs.TypeSyncSnapshot, func(ctx context.Context, job *jobs.Job) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, 20*time.Millisecond)
			<-ctx.Done()
			return shared.Transient(ctx.Err())
		}))
		enqueue(t, q, jobs.TypeSyncSnapshot)

		_, err := pool.ProcessNext(ctx)
		require.NoError(t, err)
		depths, err := q.Depths(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), depths[queue.StateDelayed])
	})
}

func TestPool_Register(t *testing.T) {
	pool, _, _ := newTestPool(t, DefaultConfig())
	assert.Error(t, pool.Register("unknown", func(ctx context.Context, job *jobs.Job) error { return nil }))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrNoHandlers)
}

func TestPool_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 4
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	pool, q, _ := newTestPool(t, cfg)

	var done atomic.Int32
	require.NoError(t, pool.Register(jobs.TypeSyncSnapshot, func(ctx context.Context, job *jobs.Job) error {
		done.Add(1)
		return nil
	}))
	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Register(jobs.TypeSyncDelete, nil), ErrPoolRunning)

	for i := 0; i < 20; i++ {
		enqueue(t, q, jobs.TypeSyncSnapshot)
	}
	assert.Eventually(t, func() bool { return done.Load() == 20 }, 5*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(stopCtx))
	require.NoError(t, pool.Stop(stopCtx))
}

func TestPool_StopWaitsForInFlightJob(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = 5 * time.Millisecond
	pool, q, _ := newTestPool(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, pool.Register(jobs.TypeExportGenerate, func(ctx context.Context, job *jobs.Job) error {
		close(started)
		<-release
		finished.Store(ctx.Err() == nil)
		return nil
	}))
	require.NoError(t, pool.Start(context.Background()))
	enqueue(t, q, jobs.TypeExportGenerate)
	<-started

	stopped := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- pool.Stop(stopCtx)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-stopped)
	assert.True(t, finished.Load(), "job context stays live during graceful stop")
}

func TestPool_StopTimeoutCancelsJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = 5 * time.Millisecond
	pool, q, _ := newTestPool(t, cfg)

	started := make(chan struct{})
	require.NoError(t, pool.Register(jobs.TypeExportGenerate, func(ctx context.Context, job *jobs.Job) error {
		close(started)
		<-ctx.Done()
		return shared.Transient(ctx.Err())
	}))
	require.NoError(t, pool.Start(context.Background()))
	enqueue(t, q, jobs.TypeExportGenerate)
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(stopCtx), context.DeadlineExceeded)
}
