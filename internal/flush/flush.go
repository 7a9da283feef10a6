// Package flush implements the persistence worker: it drains the accumulator
// and applies every pending delta to the durable store, and it performs the
// session writes (first join, logout, playtime) on behalf of the ingestor.
package flush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bryonbaker/playerstats/internal/accumulator"
	"github.com/bryonbaker/playerstats/internal/config"
	"github.com/bryonbaker/playerstats/internal/database"
	"github.com/bryonbaker/playerstats/internal/metrics"
	"github.com/bryonbaker/playerstats/internal/models"
	"github.com/bryonbaker/playerstats/internal/retry"
	"github.com/bryonbaker/playerstats/internal/workerpool"
)

// ErrPartialFlush is returned by Flush when at least one column upsert failed.
var ErrPartialFlush = errors.New("partial flush failure")

// Worker persists drained deltas through a shared worker pool.
type Worker struct {
	acc     *accumulator.Store
	store   database.DataStore
	pool    *workerpool.Pool
	policy  retry.Policy
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewWorker creates a Worker with the given dependencies.
func NewWorker(
	acc *accumulator.Store,
	store database.DataStore,
	pool *workerpool.Pool,
	policy retry.Policy,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		acc:     acc,
		store:   store,
		pool:    pool,
		policy:  policy,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// playerOutcome collects the per-player result of a flush job.
type playerOutcome struct {
	columns  int
	failed   int
	requeued int
	err      error
}

// Flush drains the accumulator and upserts each non-zero column of every
// drained delta. One job per player is submitted to the pool. A failed column
// does not stop the remaining columns or players; its delta is dropped unless
// flush.requeueFailed is set. A ctx that is already done leaves the
// accumulator untouched. Callers must serialize calls to Flush.
func (w *Worker) Flush(ctx context.Context, trigger string) (models.FlushResult, error) {
	if err := ctx.Err(); err != nil {
		return models.FlushResult{}, fmt.Errorf("flush not started: %w", err)
	}

	start := time.Now()
	snapshot := w.acc.DrainAll()
	w.metrics.PendingPlayers.Set(float64(w.acc.Len()))

	result := models.FlushResult{Players: len(snapshot)}
	if len(snapshot) == 0 {
		result.Duration = time.Since(start)
		w.metrics.RecordFlush(trigger, 0, 0, result.Duration)
		w.logger.Debug("flush found no pending deltas", zap.String("trigger", trigger))
		return result, nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs error
	)
	collect := func(o playerOutcome) {
		mu.Lock()
		defer mu.Unlock()
		result.Columns += o.columns
		result.Failed += o.failed
		result.Requeued += o.requeued
		errs = multierr.Append(errs, o.err)
	}

	// The snapshot is already out of the accumulator, so every delta must
	// reach the pool even if the caller goes away.
	submitCtx := context.WithoutCancel(ctx)
	for _, delta := range snapshot {
		d := delta
		wg.Add(1)
		err := w.pool.Submit(submitCtx, func(jobCtx context.Context) {
			defer wg.Done()
			collect(w.persistDelta(jobCtx, d))
		})
		if err != nil {
			wg.Done()
			w.logger.Error("failed to submit flush job",
				zap.String("player_id", d.PlayerID.String()),
				zap.Error(err),
			)
			collect(w.abandonDelta(d, err))
		}
	}
	wg.Wait()

	result.Duration = time.Since(start)
	w.metrics.RecordFlush(trigger, result.Players, result.Failed, result.Duration)
	if result.Requeued > 0 {
		w.metrics.FlushRequeuedTotal.Add(float64(result.Requeued))
		w.metrics.PendingPlayers.Set(float64(w.acc.Len()))
	}

	fields := []zap.Field{
		zap.String("trigger", trigger),
		zap.Int("players", result.Players),
		zap.Int("columns", result.Columns),
		zap.Int("failed", result.Failed),
		zap.Int("requeued", result.Requeued),
		zap.Duration("duration", result.Duration),
	}
	if errs != nil {
		w.logger.Warn("flush completed with failures", append(fields, zap.Error(errs))...)
		return result, fmt.Errorf("%w: %d of %d upserts failed: %w", ErrPartialFlush, result.Failed, result.Columns, errs)
	}
	w.logger.Info("flush completed", fields...)
	return result, nil
}

// persistDelta upserts every non-zero column for one player.
func (w *Worker) persistDelta(ctx context.Context, d *models.PlayerDelta) playerOutcome {
	var out playerOutcome
	for _, kind := range models.AllKinds {
		amount := d.Value(kind)
		if amount == 0 {
			continue
		}
		out.columns++

		err := w.timed(ctx, "upsert_increment", func(opCtx context.Context) error {
			return w.store.UpsertIncrement(opCtx, d.PlayerID, d.DisplayName, kind, amount)
		})
		w.metrics.RecordColumnUpsert(string(kind), err)
		if err == nil {
			continue
		}

		out.failed++
		out.err = multierr.Append(out.err, fmt.Errorf("player %s column %s: %w", d.PlayerID, kind, err))
		w.logger.Error("failed to upsert stat column",
			zap.String("player_id", d.PlayerID.String()),
			zap.String("column", string(kind)),
			zap.Float64("delta", amount),
			zap.Error(err),
		)
		if w.cfg.Flush.RequeueFailed {
			w.acc.Restore(d.PlayerID, d.DisplayName, kind, amount)
			out.requeued++
		}
	}
	return out
}

// abandonDelta accounts for a delta whose job could not be submitted.
func (w *Worker) abandonDelta(d *models.PlayerDelta, cause error) playerOutcome {
	var out playerOutcome
	for _, kind := range models.AllKinds {
		amount := d.Value(kind)
		if amount == 0 {
			continue
		}
		out.columns++
		out.failed++
		w.metrics.RecordColumnUpsert(string(kind), cause)
		if w.cfg.Flush.RequeueFailed {
			w.acc.Restore(d.PlayerID, d.DisplayName, kind, amount)
			out.requeued++
		}
	}
	out.err = fmt.Errorf("player %s: %w", d.PlayerID, cause)
	return out
}

// RecordFirstJoin sets first_join for the player, retrying under the
// configured policy. Constraint violations are not retried.
func (w *Worker) RecordFirstJoin(ctx context.Context, playerID uuid.UUID, displayName string) error {
	const op = "first_join"

	err := retry.Do(ctx, w.policy, func(ctx context.Context) error {
		err := w.timed(ctx, "touch_first_join", func(opCtx context.Context) error {
			return w.store.TouchFirstJoin(opCtx, playerID, displayName)
		})
		if errors.Is(err, database.ErrStoreConstraintViolation) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, wait time.Duration, err error) {
		w.metrics.RetryAttemptsTotal.WithLabelValues(op).Inc()
		w.metrics.RetryBackoff.WithLabelValues(op).Observe(wait.Seconds())
		w.logger.Warn("first join write failed, retrying",
			zap.String("player_id", playerID.String()),
			zap.Int("attempt", attempt),
			zap.Duration("next_backoff", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			w.metrics.RetryExhaustedTotal.WithLabelValues(op).Inc()
		}
		w.logger.Error("first join write abandoned",
			zap.String("player_id", playerID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("record first join: %w", err)
	}
	return nil
}

// RecordLogout sets last_logout for the player. Single attempt.
func (w *Worker) RecordLogout(ctx context.Context, playerID uuid.UUID) error {
	err := w.timed(ctx, "touch_last_logout", func(opCtx context.Context) error {
		return w.store.TouchLastLogout(opCtx, playerID)
	})
	if err != nil {
		w.logger.Error("failed to record logout",
			zap.String("player_id", playerID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("record logout: %w", err)
	}
	return nil
}

// RecordPlaytime adds seconds to the player's time_played. Single attempt.
func (w *Worker) RecordPlaytime(ctx context.Context, playerID uuid.UUID, seconds int64) error {
	err := w.timed(ctx, "increment_time_played", func(opCtx context.Context) error {
		return w.store.IncrementTimePlayed(opCtx, playerID, seconds)
	})
	if err != nil {
		w.logger.Error("failed to record playtime",
			zap.String("player_id", playerID.String()),
			zap.Int64("seconds", seconds),
			zap.Error(err),
		)
		return fmt.Errorf("record playtime: %w", err)
	}
	return nil
}

// timed runs one store call under storage.opTimeout and records its latency.
func (w *Worker) timed(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	opCtx := ctx
	if timeout := w.cfg.Storage.OpTimeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(opCtx)
	w.metrics.RecordDBOperation(operation, time.Since(start), err)
	return err
}
