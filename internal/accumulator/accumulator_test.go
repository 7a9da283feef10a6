package accumulator

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryonbaker/playerstats/internal/models"
)

func TestRecordEvent_CreatesDeltaAndUpdatesName(t *testing.T) {
	s := New()
	id := uuid.New()

	s.RecordEvent(id, "Steve", models.StatBlocksMined)
	s.RecordEvent(id, "SteveRenamed", models.StatBlocksMined)
	s.RecordEvent(id, "SteveRenamed", models.StatDeaths)

	d, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(2), d.BlocksMined)
	assert.Equal(t, int64(1), d.Deaths)
	assert.Equal(t, "SteveRenamed", d.DisplayName)
	assert.Equal(t, 1, s.Len())
}

func TestRecordDistance_IgnoresNegative(t *testing.T) {
	s := New()
	id := uuid.New()

	s.RecordDistance(id, "Alex", 1.5)
	s.RecordDistance(id, "Alex", 2.25)
	s.RecordDistance(id, "Alex", -4)

	d, ok := s.Get(id)
	require.True(t, ok)
	assert.InDelta(t, 3.75, d.DistanceWalked, 1e-9)
}

func TestDrainAll_ReturnsSnapshotAndClears(t *testing.T) {
	s := New()
	a, b := uuid.New(), uuid.New()
	s.RecordEvent(a, "a", models.StatDeaths)
	s.RecordEvent(b, "b", models.StatMobKills)

	snap := s.DrainAll()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap[a].Deaths)
	assert.Equal(t, int64(1), snap[b].MobKills)
	assert.Equal(t, 0, s.Len())

	// Events after the drain land only in the next snapshot.
	s.RecordEvent(a, "a", models.StatDeaths)
	assert.Equal(t, int64(1), snap[a].Deaths)

	next := s.DrainAll()
	require.Len(t, next, 1)
	assert.Equal(t, int64(1), next[a].Deaths)
}

func TestDrainAll_EmptyStore(t *testing.T) {
	s := New()
	snap := s.DrainAll()
	assert.NotNil(t, snap)
	assert.Empty(t, snap)
}

func TestRestore_MergesIntoExistingDelta(t *testing.T) {
	s := New()
	id := uuid.New()
	s.RecordEvent(id, "newer", models.StatBlocksPlaced)

	s.Restore(id, "older", models.StatBlocksPlaced, 4)
	s.Restore(id, "older", models.StatDistanceWalked, 1.5)
	s.Restore(id, "older", models.StatDeaths, 0)
	s.Restore(id, "older", models.StatKind("bogus"), 3)

	d, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(5), d.BlocksPlaced)
	assert.InDelta(t, 1.5, d.DistanceWalked, 1e-9)
	assert.Equal(t, int64(0), d.Deaths)
	assert.Equal(t, "newer", d.DisplayName)
}

func TestRestore_CreatesDelta(t *testing.T) {
	s := New()
	id := uuid.New()
	s.Restore(id, "ghost", models.StatMobKills, 2)

	d, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(2), d.MobKills)
	assert.Equal(t, "ghost", d.DisplayName)
}

func TestConcurrentRecordEvent_NoLostUpdates(t *testing.T) {
	s := New()
	id := uuid.New()
	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s.RecordEvent(id, "p", models.StatBlocksMined)
			}
		}()
	}
	wg.Wait()

	snap := s.DrainAll()
	require.Contains(t, snap, id)
	assert.Equal(t, int64(goroutines*perGoroutine), snap[id].BlocksMined)
}

func TestConcurrentRecordAndDrain_NoLossNoDoubleCount(t *testing.T) {
	s := New()
	id := uuid.New()
	const writers = 8
	const perWriter = 1000

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				s.RecordEvent(id, "p", models.StatDeaths)
			}
		}()
	}

	var total int64
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			if d, ok := s.DrainAll()[id]; ok {
				total += d.Deaths
			}
			assert.Equal(t, int64(writers*perWriter), total)
			return
		default:
			if d, ok := s.DrainAll()[id]; ok {
				total += d.Deaths
			}
		}
	}
}
