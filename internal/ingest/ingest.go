// Package ingest translates host gameplay events into accumulator and session
// mutations. Handlers never block on the durable store: session writes are
// handed to the persistence worker pool.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryonbaker/playerstats/internal/accumulator"
	"github.com/bryonbaker/playerstats/internal/metrics"
	"github.com/bryonbaker/playerstats/internal/models"
	"github.com/bryonbaker/playerstats/internal/session"
	"github.com/bryonbaker/playerstats/internal/workerpool"
)

// SessionWriter performs the durable session writes. *flush.Worker satisfies
// this interface.
type SessionWriter interface {
	RecordFirstJoin(ctx context.Context, playerID uuid.UUID, displayName string) error
	RecordLogout(ctx context.Context, playerID uuid.UUID) error
	RecordPlaytime(ctx context.Context, playerID uuid.UUID, seconds int64) error
}

// Ingestor is safe for concurrent use from any number of goroutines.
type Ingestor struct {
	acc      *accumulator.Store
	sessions *session.Tracker
	writer   SessionWriter
	pool     *workerpool.Pool
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// tails holds, per player, a channel closed when the most recently
	// submitted session write finishes. Writes for one player run in
	// submission order.
	mu    sync.Mutex
	tails map[uuid.UUID]chan struct{}
}

// NewIngestor creates an Ingestor with the given dependencies.
func NewIngestor(
	acc *accumulator.Store,
	sessions *session.Tracker,
	writer SessionWriter,
	pool *workerpool.Pool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		acc:      acc,
		sessions: sessions,
		writer:   writer,
		pool:     pool,
		metrics:  m,
		logger:   logger,
		tails:    make(map[uuid.UUID]chan struct{}),
	}
}

// Handle validates ev and dispatches it to the matching handler. Only
// validation errors are returned.
func (in *Ingestor) Handle(ev models.Event) error {
	if err := ev.Validate(); err != nil {
		in.metrics.RecordEventRejected("invalid")
		return fmt.Errorf("invalid event: %w", err)
	}

	switch ev.Type {
	case models.EventJoin:
		in.OnJoin(ev.Player)
	case models.EventQuit:
		in.OnQuit(ev.Player)
	case models.EventDeath:
		in.OnDeath(ev.Player)
	case models.EventBlockBreak:
		in.OnBlockBreak(ev.Player)
	case models.EventBlockPlace:
		in.OnBlockPlace(ev.Player)
	case models.EventEntityKilled:
		in.OnEntityKilled(ev.Killer, ev.VictimIsPlayer)
	case models.EventMove:
		in.OnMove(ev.Player, *ev.From, *ev.To)
	}
	return nil
}

// OnJoin starts a session and, for a fresh session, records first_join.
// A duplicate join for an online player is a no-op.
func (in *Ingestor) OnJoin(p models.PlayerRef) {
	in.metrics.RecordEvent(string(models.EventJoin))
	if !in.sessions.BeginSession(p.ID) {
		in.logger.Debug("join for player with active session ignored",
			zap.String("player_id", p.ID.String()),
		)
		return
	}
	in.metrics.OnlineSessions.Set(float64(in.sessions.Len()))

	in.submit(p.ID, "first_join", func(ctx context.Context) {
		_ = in.writer.RecordFirstJoin(ctx, p.ID, p.Name)
	})
}

// OnQuit ends the player's session and records playtime then logout. A quit
// without an active session is logged and otherwise ignored.
func (in *Ingestor) OnQuit(p models.PlayerRef) {
	in.metrics.RecordEvent(string(models.EventQuit))
	secs, err := in.sessions.EndSession(p.ID)
	if errors.Is(err, session.ErrNoActiveSession) {
		in.metrics.SessionsEndedTotal.WithLabelValues("missing").Inc()
		in.logger.Warn("quit for player with no active session",
			zap.String("player_id", p.ID.String()),
			zap.String("player_name", p.Name),
		)
		return
	}
	in.metrics.OnlineSessions.Set(float64(in.sessions.Len()))
	in.metrics.SessionsEndedTotal.WithLabelValues("quit").Inc()

	in.submit(p.ID, "quit", func(ctx context.Context) {
		_ = in.writer.RecordPlaytime(ctx, p.ID, secs)
		_ = in.writer.RecordLogout(ctx, p.ID)
	})
}

// OnDeath counts a death for the player.
func (in *Ingestor) OnDeath(p models.PlayerRef) {
	in.metrics.RecordEvent(string(models.EventDeath))
	in.acc.RecordEvent(p.ID, p.Name, models.StatDeaths)
}

// OnBlockBreak counts a mined block.
func (in *Ingestor) OnBlockBreak(p models.PlayerRef) {
	in.metrics.RecordEvent(string(models.EventBlockBreak))
	in.acc.RecordEvent(p.ID, p.Name, models.StatBlocksMined)
}

// OnBlockPlace counts a placed block.
func (in *Ingestor) OnBlockPlace(p models.PlayerRef) {
	in.metrics.RecordEvent(string(models.EventBlockPlace))
	in.acc.RecordEvent(p.ID, p.Name, models.StatBlocksPlaced)
}

// OnEntityKilled credits the killer with a player or mob kill. Kills without
// a player killer are ignored.
func (in *Ingestor) OnEntityKilled(killer *models.PlayerRef, victimIsPlayer bool) {
	in.metrics.RecordEvent(string(models.EventEntityKilled))
	if killer == nil {
		return
	}
	kind := models.StatMobKills
	if victimIsPlayer {
		kind = models.StatPlayerKills
	}
	in.acc.RecordEvent(killer.ID, killer.Name, kind)
}

// OnMove adds the planar distance between from and to. Movement between
// worlds is ignored.
func (in *Ingestor) OnMove(p models.PlayerRef, from, to models.Location) {
	in.metrics.RecordEvent(string(models.EventMove))
	dist, ok := models.HorizontalDistance(from, to)
	if !ok || dist == 0 {
		return
	}
	in.acc.RecordDistance(p.ID, p.Name, dist)
}

// CloseSessions writes playtime and logout for every still-open session and
// removes each entry once its writes have succeeded or been abandoned. It runs
// synchronously and is meant for shutdown, after the worker pool has drained.
func (in *Ingestor) CloseSessions(ctx context.Context) {
	open := in.sessions.ElapsedSecondsForAll()
	if len(open) == 0 {
		return
	}
	in.logger.Info("closing open sessions", zap.Int("sessions", len(open)))

	for id, secs := range open {
		if ctx.Err() != nil {
			in.logger.Warn("session close interrupted",
				zap.Int("remaining", in.sessions.Len()),
				zap.Error(ctx.Err()),
			)
			return
		}
		if err := in.writer.RecordPlaytime(ctx, id, secs); err != nil {
			in.logger.Warn("playtime lost for player at shutdown",
				zap.String("player_id", id.String()),
				zap.Int64("seconds", secs),
			)
		}
		_ = in.writer.RecordLogout(ctx, id)
		in.sessions.Remove(id)
		in.metrics.SessionsEndedTotal.WithLabelValues("shutdown").Inc()
	}
	in.metrics.OnlineSessions.Set(float64(in.sessions.Len()))
}

// submit queues a session write for playerID behind any earlier write for the
// same player. When the queue is full the write is dropped and logged.
func (in *Ingestor) submit(playerID uuid.UUID, what string, fn func(ctx context.Context)) {
	in.mu.Lock()
	defer in.mu.Unlock()

	prev := in.tails[playerID]
	done := make(chan struct{})

	err := in.pool.TrySubmit(func(ctx context.Context) {
		defer in.finish(playerID, done)
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			}
		}
		fn(ctx)
	})
	if err != nil {
		in.metrics.RecordEventRejected("queue_full")
		in.logger.Error("session write dropped",
			zap.String("player_id", playerID.String()),
			zap.String("write", what),
			zap.Error(err),
		)
		return
	}
	in.tails[playerID] = done
}

// finish closes done and forgets it if no later write was queued.
func (in *Ingestor) finish(playerID uuid.UUID, done chan struct{}) {
	in.mu.Lock()
	defer in.mu.Unlock()
	close(done)
	if in.tails[playerID] == done {
		delete(in.tails, playerID)
	}
}
