// Package models defines the data structures used throughout the playerstats service.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// StatKind names a per-player counter. Its value is also the column name in
// the player_stats table.
type StatKind string

// Stat kinds
const (
	StatDeaths         StatKind = "deaths"
	StatMobKills       StatKind = "mob_kills"
	StatPlayerKills    StatKind = "player_kills"
	StatBlocksMined    StatKind = "blocks_mined"
	StatBlocksPlaced   StatKind = "blocks_placed"
	StatDistanceWalked StatKind = "distance_walked"
)

// CounterKinds lists the integer counters in the order they are flushed.
var CounterKinds = []StatKind{
	StatDeaths,
	StatMobKills,
	StatPlayerKills,
	StatBlocksMined,
	StatBlocksPlaced,
}

// AllKinds lists every stat column, counters first, then distance.
var AllKinds = append(append([]StatKind{}, CounterKinds...), StatDistanceWalked)

// Valid reports whether k is a known stat kind.
func (k StatKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsCounter reports whether k is an integer counter rather than a float accumulator.
func (k StatKind) IsCounter() bool {
	return k.Valid() && k != StatDistanceWalked
}

// PlayerDelta holds the unflushed increments for one player.
type PlayerDelta struct {
	PlayerID       uuid.UUID `json:"player_id"`
	DisplayName    string    `json:"display_name"`
	Deaths         int64     `json:"deaths"`
	MobKills       int64     `json:"mob_kills"`
	PlayerKills    int64     `json:"player_kills"`
	BlocksMined    int64     `json:"blocks_mined"`
	BlocksPlaced   int64     `json:"blocks_placed"`
	DistanceWalked float64   `json:"distance_walked"`
}

// Add increments the counter for kind by n. Distance is handled by AddDistance.
func (d *PlayerDelta) Add(kind StatKind, n int64) {
	switch kind {
	case StatDeaths:
		d.Deaths += n
	case StatMobKills:
		d.MobKills += n
	case StatPlayerKills:
		d.PlayerKills += n
	case StatBlocksMined:
		d.BlocksMined += n
	case StatBlocksPlaced:
		d.BlocksPlaced += n
	}
}

// AddDistance adds a horizontal distance to the walked accumulator.
func (d *PlayerDelta) AddDistance(dist float64) {
	d.DistanceWalked += dist
}

// Value returns the pending amount for kind as a float64.
func (d *PlayerDelta) Value(kind StatKind) float64 {
	switch kind {
	case StatDeaths:
		return float64(d.Deaths)
	case StatMobKills:
		return float64(d.MobKills)
	case StatPlayerKills:
		return float64(d.PlayerKills)
	case StatBlocksMined:
		return float64(d.BlocksMined)
	case StatBlocksPlaced:
		return float64(d.BlocksPlaced)
	case StatDistanceWalked:
		return d.DistanceWalked
	}
	return 0
}

// IsZero returns true if no counter holds a pending amount.
func (d *PlayerDelta) IsZero() bool {
	for _, k := range AllKinds {
		if d.Value(k) != 0 {
			return false
		}
	}
	return true
}

// PlayerRow mirrors one row of the player_stats table.
type PlayerRow struct {
	PlayerID       uuid.UUID  `json:"player_id"`
	DisplayName    string     `json:"display_name"`
	FirstJoin      *time.Time `json:"first_join,omitempty"`
	LastLogout     *time.Time `json:"last_logout,omitempty"`
	TimePlayed     int64      `json:"time_played"`
	Deaths         int64      `json:"deaths"`
	MobKills       int64      `json:"mob_kills"`
	PlayerKills    int64      `json:"player_kills"`
	BlocksMined    int64      `json:"blocks_mined"`
	BlocksPlaced   int64      `json:"blocks_placed"`
	DistanceWalked float64    `json:"distance_walked"`
}

// Location is a position inside a named world.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// HorizontalDistance returns the planar (X/Z) distance between two locations
// and false when they are in different worlds.
func HorizontalDistance(from, to Location) (float64, bool) {
	if from.World != to.World {
		return 0, false
	}
	return math.Hypot(to.X-from.X, to.Z-from.Z), true
}

// EventType identifies a host gameplay event.
type EventType string

// Event type constants
const (
	EventJoin         EventType = "join"
	EventQuit         EventType = "quit"
	EventDeath        EventType = "death"
	EventBlockBreak   EventType = "block_break"
	EventBlockPlace   EventType = "block_place"
	EventEntityKilled EventType = "entity_killed"
	EventMove         EventType = "move"
)

// PlayerRef identifies a player in a host event.
type PlayerRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Event is the JSON body accepted by the events ingress endpoint.
//
// For entity_killed, Player is unused and Killer is the optional killing player.
// For move, From and To are required.
type Event struct {
	Type           EventType  `json:"type"`
	Player         PlayerRef  `json:"player"`
	Killer         *PlayerRef `json:"killer,omitempty"`
	VictimIsPlayer bool       `json:"victimIsPlayer,omitempty"`
	From           *Location  `json:"from,omitempty"`
	To             *Location  `json:"to,omitempty"`
}

// Validate checks that the fields required by the event type are present.
func (e *Event) Validate() error {
	switch e.Type {
	case EventJoin, EventQuit, EventDeath, EventBlockBreak, EventBlockPlace:
		if e.Player.ID == uuid.Nil {
			return fmt.Errorf("%s event requires player.id", e.Type)
		}
	case EventEntityKilled:
		if e.Killer != nil && e.Killer.ID == uuid.Nil {
			return fmt.Errorf("killer.id must be set when killer is present")
		}
	case EventMove:
		if e.Player.ID == uuid.Nil {
			return fmt.Errorf("move event requires player.id")
		}
		if e.From == nil || e.To == nil {
			return fmt.Errorf("move event requires from and to")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// FlushResult summarises one flush cycle.
type FlushResult struct {
	Players  int           `json:"players"`
	Columns  int           `json:"columns"`
	Failed   int           `json:"failed"`
	Requeued int           `json:"requeued"`
	Duration time.Duration `json:"duration"`
}

// Partial reports whether at least one column upsert failed.
func (r FlushResult) Partial() bool {
	return r.Failed > 0
}

// HealthResponse is returned by the /healthz liveness endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is returned by the /ready readiness endpoint.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// FlushResponse is returned by the manual flush endpoint.
type FlushResponse struct {
	Status  string `json:"status"`
	Players int    `json:"players"`
	Columns int    `json:"columns"`
	Failed  int    `json:"failed"`
}

// ErrorResponse is the JSON body returned by the ingress endpoints on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}
