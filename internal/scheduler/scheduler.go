// Package scheduler decides when the persistence worker flushes: on a fixed
// interval, on operator request and once more at shutdown. At most one flush
// runs at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bryonbaker/playerstats/internal/config"
	"github.com/bryonbaker/playerstats/internal/metrics"
	"github.com/bryonbaker/playerstats/internal/models"
)

// ErrStopped is returned by Trigger after Shutdown has been called.
var ErrStopped = errors.New("flush scheduler stopped")

// Flusher runs one flush cycle. *flush.Worker satisfies this interface.
type Flusher interface {
	Flush(ctx context.Context, trigger string) (models.FlushResult, error)
}

// Scheduler serializes flushes from the ticker, manual triggers and shutdown.
// A tick that finds a flush in progress is dropped; manual and shutdown
// flushes wait their turn.
type Scheduler struct {
	flusher Flusher
	sem     *semaphore.Weighted
	stopped atomic.Bool
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewScheduler creates a Scheduler for the given flusher.
func NewScheduler(f Flusher, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		flusher: f,
		sem:     semaphore.NewWeighted(1),
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Start runs the periodic flush loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Flush.Interval.Duration)
	defer ticker.Stop()

	s.logger.Info("flush scheduler started",
		zap.Duration("interval", s.cfg.Flush.Interval.Duration),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("flush scheduler stopping", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a scheduled flush unless one is already in progress.
func (s *Scheduler) tick(ctx context.Context) {
	if s.stopped.Load() || ctx.Err() != nil {
		return
	}
	if !s.sem.TryAcquire(1) {
		s.metrics.FlushSkippedTotal.Inc()
		s.logger.Debug("flush already in progress, dropping tick")
		return
	}
	defer s.sem.Release(1)

	if _, err := s.flusher.Flush(ctx, metrics.TriggerTick); err != nil {
		s.logger.Error("scheduled flush failed", zap.Error(err))
	}
}

// Trigger runs a flush on operator request, waiting for any in-flight flush
// to finish first. The returned result is valid even when err wraps a partial
// failure.
func (s *Scheduler) Trigger(ctx context.Context) (models.FlushResult, error) {
	if s.stopped.Load() {
		return models.FlushResult{}, ErrStopped
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return models.FlushResult{}, fmt.Errorf("waiting for in-flight flush: %w", err)
	}
	defer s.sem.Release(1)

	s.logger.Info("manual flush requested")
	return s.flusher.Flush(ctx, metrics.TriggerManual)
}

// Shutdown stops further flushes and runs a final one, bounded by
// flush.shutdownTimeout. On timeout the final flush keeps running in the
// background and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) (models.FlushResult, error) {
	s.stopped.Store(true)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Flush.ShutdownTimeout.Duration)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.logger.Error("final flush not started, previous flush still running", zap.Error(err))
		return models.FlushResult{}, fmt.Errorf("final flush: %w", err)
	}

	type outcome struct {
		res models.FlushResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer s.sem.Release(1)
		res, err := s.flusher.Flush(ctx, metrics.TriggerShutdown)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			s.logger.Error("final flush failed", zap.Error(o.err))
		} else {
			s.logger.Info("final flush completed", zap.Int("players", o.res.Players))
		}
		return o.res, o.err
	case <-ctx.Done():
		s.logger.Error("final flush timed out",
			zap.Duration("timeout", s.cfg.Flush.ShutdownTimeout.Duration),
		)
		return models.FlushResult{}, fmt.Errorf("final flush: %w", ctx.Err())
	}
}
