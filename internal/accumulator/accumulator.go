// Package accumulator holds the per-player stat deltas that have not yet been
// flushed to the durable store. It is the single source of truth for
// unflushed counters and is safe for concurrent use.
package accumulator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/bryonbaker/playerstats/internal/models"
)

// Store maps player identity to a pending PlayerDelta. A single mutex guards
// the map; every operation is O(1) and never blocks on I/O.
type Store struct {
	mu     sync.Mutex
	deltas map[uuid.UUID]*models.PlayerDelta
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		deltas: make(map[uuid.UUID]*models.PlayerDelta),
	}
}

// RecordEvent increments the counter for kind by one, creating the player's
// delta if needed and updating its display name.
func (s *Store) RecordEvent(playerID uuid.UUID, displayName string, kind models.StatKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltaLocked(playerID, displayName).Add(kind, 1)
}

// RecordDistance adds dist to the player's walked distance. Negative values
// are ignored.
func (s *Store) RecordDistance(playerID uuid.UUID, displayName string, dist float64) {
	if dist < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltaLocked(playerID, displayName).AddDistance(dist)
}

// Restore merges a previously drained amount back into the store. It is used
// when failed upserts are requeued for the next flush cycle. The display name
// is only applied when the player has no newer delta.
func (s *Store) Restore(playerID uuid.UUID, displayName string, kind models.StatKind, amount float64) {
	if amount <= 0 || !kind.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deltas[playerID]
	if !ok {
		d = &models.PlayerDelta{PlayerID: playerID, DisplayName: displayName}
		s.deltas[playerID] = d
	}
	if kind == models.StatDistanceWalked {
		d.AddDistance(amount)
		return
	}
	d.Add(kind, int64(amount))
}

// DrainAll atomically swaps the current mapping for an empty one and returns
// the previous mapping. The caller owns the returned map.
func (s *Store) DrainAll() map[uuid.UUID]*models.PlayerDelta {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.deltas
	s.deltas = make(map[uuid.UUID]*models.PlayerDelta, len(drained))
	return drained
}

// Get returns a copy of the pending delta for a player.
func (s *Store) Get(playerID uuid.UUID) (models.PlayerDelta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deltas[playerID]
	if !ok {
		return models.PlayerDelta{}, false
	}
	return *d, true
}

// Len returns the number of players with a pending delta.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deltas)
}

// deltaLocked returns the player's delta, creating it if absent. The caller
// must hold s.mu.
func (s *Store) deltaLocked(playerID uuid.UUID, displayName string) *models.PlayerDelta {
	d, ok := s.deltas[playerID]
	if !ok {
		d = &models.PlayerDelta{PlayerID: playerID}
		s.deltas[playerID] = d
	}
	d.DisplayName = displayName
	return d
}
