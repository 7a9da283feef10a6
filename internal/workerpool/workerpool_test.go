package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bryonbaker/playerstats/internal/metrics"
)

func newTestPool(t *testing.T, workers, queueSize int) *Pool {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(workers, queueSize, m, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestSubmit_RunsAllJobs(t *testing.T) {
	p := newTestPool(t, 4, 16)

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(100), count.Load())
}

func TestSubmit_BoundedConcurrency(t *testing.T) {
	p := newTestPool(t, 3, 32)

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestTrySubmit_QueueFull(t *testing.T) {
	p := newTestPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.TrySubmit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	// Worker is busy; one slot in the queue.
	require.NoError(t, p.TrySubmit(func(context.Context) {}))
	assert.ErrorIs(t, p.TrySubmit(func(context.Context) {}), ErrQueueFull)
	assert.Equal(t, 1, p.QueueLen())

	close(release)
}

func TestSubmit_BlocksUntilContextDone(t *testing.T) {
	p := newTestPool(t, 1, 0)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestShutdown_DrainsQueuedJobs(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(2, 64, m, zap.NewNop())

	var count atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			time.Sleep(time.Millisecond)
			count.Add(1)
		}))
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int64(50), count.Load())

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrPoolClosed)
	assert.ErrorIs(t, p.TrySubmit(func(context.Context) {}), ErrPoolClosed)
	assert.NoError(t, p.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestShutdown_TimeoutCancelsRunningJobs(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(1, 8, m, zap.NewNop())

	cancelled := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	var ranAfter atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		ranAfter.Store(true)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	default:
		t.Fatal("running job was not cancelled")
	}
	assert.False(t, ranAfter.Load(), "queued job must be discarded after forced shutdown")
}

func TestPanickingJobDoesNotKillWorker(t *testing.T) {
	p := newTestPool(t, 1, 4)

	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		panic("boom")
	}))

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
}
