// Package workerpool runs persistence jobs on a fixed number of goroutines
// fed from a bounded queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bryonbaker/playerstats/internal/metrics"
)

var (
	// ErrPoolClosed is returned when submitting to a pool that is shutting down.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrQueueFull is returned by TrySubmit when no queue slot is free.
	ErrQueueFull = errors.New("worker pool queue full")
)

// Job is a unit of work. ctx is cancelled if the pool is force-stopped.
type Job func(ctx context.Context)

// Pool is a fixed-size set of workers draining a shared job queue.
type Pool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New starts a pool with the given number of workers and queue capacity.
func New(workers, queueSize int, m *metrics.Metrics, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: m,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Info("worker pool started",
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize),
	)
	return p
}

// Submit enqueues job, blocking until a queue slot is free or ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		p.metrics.WorkerQueueSize.Set(float64(len(p.jobs)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit job: %w", ctx.Err())
	}
}

// TrySubmit enqueues job without blocking.
func (p *Pool) TrySubmit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		p.metrics.WorkerQueueSize.Set(float64(len(p.jobs)))
		return nil
	default:
		p.metrics.WorkerJobsTotal.WithLabelValues("rejected").Inc()
		return ErrQueueFull
	}
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool) QueueLen() int {
	return len(p.jobs)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. If ctx is done first, running jobs are cancelled, the remaining
// queue is discarded and ctx's error is returned once every worker exits.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling running jobs",
			zap.Int("queued", len(p.jobs)),
		)
		p.cancel()
		<-done
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

// worker drains the queue until it is closed.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.metrics.WorkerQueueSize.Set(float64(len(p.jobs)))

		if p.ctx.Err() != nil {
			p.metrics.WorkerJobsTotal.WithLabelValues("discarded").Inc()
			continue
		}

		start := time.Now()
		p.run(id, job)
		p.metrics.WorkerProcessingDuration.Observe(time.Since(start).Seconds())
	}
}

// run executes a single job, recovering from panics so one bad job cannot
// take down a worker.
func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.WorkerJobsTotal.WithLabelValues("panicked").Inc()
			p.logger.Error("worker job panicked",
				zap.Int("worker", id),
				zap.Any("panic", r),
			)
		}
	}()

	job(p.ctx)
	p.metrics.WorkerJobsTotal.WithLabelValues("done").Inc()
}
