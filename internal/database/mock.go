package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/bryonbaker/playerstats/internal/models"
)

// MockDataStore is a testify/mock implementation of the DataStore interface.
type MockDataStore struct {
	mock.Mock
}

// Ensure MockDataStore satisfies the DataStore interface at compile time.
var _ DataStore = (*MockDataStore)(nil)

// Close mocks the Close method.
func (m *MockDataStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Ping mocks the Ping method.
func (m *MockDataStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// UpsertIncrement mocks the UpsertIncrement method.
func (m *MockDataStore) UpsertIncrement(ctx context.Context, playerID uuid.UUID, displayName string, column models.StatKind, delta float64) error {
	args := m.Called(ctx, playerID, displayName, column, delta)
	return args.Error(0)
}

// TouchFirstJoin mocks the TouchFirstJoin method.
func (m *MockDataStore) TouchFirstJoin(ctx context.Context, playerID uuid.UUID, displayName string) error {
	args := m.Called(ctx, playerID, displayName)
	return args.Error(0)
}

// TouchLastLogout mocks the TouchLastLogout method.
func (m *MockDataStore) TouchLastLogout(ctx context.Context, playerID uuid.UUID) error {
	args := m.Called(ctx, playerID)
	return args.Error(0)
}

// IncrementTimePlayed mocks the IncrementTimePlayed method.
func (m *MockDataStore) IncrementTimePlayed(ctx context.Context, playerID uuid.UUID, seconds int64) error {
	args := m.Called(ctx, playerID, seconds)
	return args.Error(0)
}

// GetPlayer mocks the GetPlayer method.
func (m *MockDataStore) GetPlayer(ctx context.Context, playerID uuid.UUID) (*models.PlayerRow, error) {
	args := m.Called(ctx, playerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlayerRow), args.Error(1)
}

// GetDatabaseSizeBytes mocks the GetDatabaseSizeBytes method.
func (m *MockDataStore) GetDatabaseSizeBytes(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
