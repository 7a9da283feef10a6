// Package database defines the durable store interface and implementations for
// the playerstats service. All aggregated player stats reach durable storage
// through the DataStore interface.
package database

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bryonbaker/playerstats/internal/models"
)

var (
	// ErrStoreUnavailable wraps connection, network and other transient failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreConstraintViolation wraps failures caused by a violated table constraint.
	ErrStoreConstraintViolation = errors.New("store constraint violation")

	// ErrPlayerNotFound is returned by GetPlayer when no row exists.
	ErrPlayerNotFound = errors.New("player not found")
)

// DataStore defines the contract for durable per-player stats storage.
// Implementations must be safe for concurrent use by multiple goroutines.
// Every write applies a relative increment or a timestamp; absolute totals
// are never overwritten.
type DataStore interface {
	// Close releases any resources held by the store.
	Close() error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// UpsertIncrement inserts a row with column = delta, or adds delta to the
	// existing column value. Counter columns receive the truncated integer
	// value of delta.
	UpsertIncrement(ctx context.Context, playerID uuid.UUID, displayName string, column models.StatKind, delta float64) error

	// TouchFirstJoin inserts the player's row with first_join = now, or
	// updates first_join on an existing row according to the store's
	// first-join policy.
	TouchFirstJoin(ctx context.Context, playerID uuid.UUID, displayName string) error

	// TouchLastLogout sets last_logout = now. A missing row is not an error.
	TouchLastLogout(ctx context.Context, playerID uuid.UUID) error

	// IncrementTimePlayed adds seconds to time_played. A missing row is not
	// an error.
	IncrementTimePlayed(ctx context.Context, playerID uuid.UUID, seconds int64) error

	// GetPlayer returns the durable row for a player, or ErrPlayerNotFound.
	GetPlayer(ctx context.Context, playerID uuid.UUID) (*models.PlayerRow, error)

	// GetDatabaseSizeBytes returns the current on-disk size of the database in bytes.
	GetDatabaseSizeBytes(ctx context.Context) (int64, error)
}
