// Package session tracks when each connected player's session started so
// playtime can be computed on quit or shutdown.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoActiveSession is returned when a session is ended for a player that
// is not being tracked.
var ErrNoActiveSession = errors.New("no active session")

// Tracker maps player identity to session start time. It is safe for
// concurrent use.
type Tracker struct {
	mu      sync.Mutex
	started map[uuid.UUID]time.Time
	now     func() time.Time
}

// NewTracker creates a Tracker. If now is nil, time.Now is used.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		started: make(map[uuid.UUID]time.Time),
		now:     now,
	}
}

// BeginSession records the current time as the player's session start. It
// returns false without changing anything if a session is already tracked.
func (t *Tracker) BeginSession(playerID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.started[playerID]; ok {
		return false
	}
	t.started[playerID] = t.now()
	return true
}

// EndSession removes the player's session and returns the whole seconds
// elapsed since it began.
func (t *Tracker) EndSession(playerID uuid.UUID) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.started[playerID]
	if !ok {
		return 0, ErrNoActiveSession
	}
	delete(t.started, playerID)
	return elapsedSeconds(start, t.now()), nil
}

// ElapsedSecondsForAll returns the elapsed seconds of every tracked session
// without removing any entry.
func (t *Tracker) ElapsedSecondsForAll() map[uuid.UUID]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make(map[uuid.UUID]int64, len(t.started))
	for id, start := range t.started {
		out[id] = elapsedSeconds(start, now)
	}
	return out
}

// Remove drops the player's session if present.
func (t *Tracker) Remove(playerID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.started, playerID)
}

// Active reports whether a session is tracked for the player.
func (t *Tracker) Active(playerID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.started[playerID]
	return ok
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.started)
}

func elapsedSeconds(start, now time.Time) int64 {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
