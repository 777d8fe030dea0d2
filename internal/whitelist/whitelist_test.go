package whitelist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmint/vendere/internal/models"
)

type memStore struct {
	consumptions map[string]*models.WhitelistConsumption
	addCalls     int
}

func newMemStore() *memStore {
	return &memStore{consumptions: make(map[string]*models.WhitelistConsumption)}
}

func (s *memStore) AddConsumption(c *models.WhitelistConsumption) (bool, error) {
	s.addCalls++
	if _, ok := s.consumptions[c.ReservationID]; ok {
		return false, nil
	}
	s.consumptions[c.ReservationID] = c
	return true, nil
}

func (s *memStore) DeleteConsumption(id string) error {
	delete(s.consumptions, id)
	return nil
}

func (s *memStore) ConsumedByKey(key string) (int, error) {
	total := 0
	for _, c := range s.consumptions {
		if c.Key == key {
			total += c.Count
		}
	}
	return total, nil
}

func TestNoRestrictionAlwaysGrants(t *testing.T) {
	gate := NewNoRestriction()
	for i := 0; i < 3; i++ {
		r, err := gate.Reserve("anyone", 1000)
		require.NoError(t, err)
		require.NoError(t, gate.Commit(r))
		require.NoError(t, gate.Release(r))
	}
}

func TestSingleUseReserveOncePerKey(t *testing.T) {
	store := newMemStore()
	gate, err := NewSingleUse([]string{"asset1", "asset2"}, store)
	require.NoError(t, err)

	r, err := gate.Reserve("asset1", 1)
	require.NoError(t, err)
	require.NoError(t, gate.Commit(r))

	_, err = gate.Reserve("asset1", 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = gate.Reserve("asset2", 1)
	assert.NoError(t, err)
}

func TestReserveUnlistedKey(t *testing.T) {
	gate, err := NewSingleUse([]string{"asset1"}, newMemStore())
	require.NoError(t, err)

	_, err = gate.Reserve("stranger", 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestBoundedQuotaConsumption(t *testing.T) {
	store := newMemStore()
	gate, err := NewBounded(map[string]int{"wallet1": 5}, store)
	require.NoError(t, err)

	r, err := gate.Reserve("wallet1", 3)
	require.NoError(t, err)
	require.NoError(t, gate.Commit(r))
	assert.Equal(t, 2, gate.Remaining("wallet1"))

	_, err = gate.Reserve("wallet1", 3)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = gate.Reserve("wallet1", 2)
	assert.NoError(t, err)
}

func TestReleaseRestoresQuotaExactly(t *testing.T) {
	gate, err := NewBounded(map[string]int{"wallet1": 4}, newMemStore())
	require.NoError(t, err)

	r, err := gate.Reserve("wallet1", 4)
	require.NoError(t, err)
	assert.Equal(t, 0, gate.Remaining("wallet1"))

	require.NoError(t, gate.Release(r))
	assert.Equal(t, 4, gate.Remaining("wallet1"))

	// A second release of the same reservation must not inflate quota.
	require.NoError(t, gate.Release(r))
	assert.Equal(t, 4, gate.Remaining("wallet1"))
}

func TestCommitIsIdempotent(t *testing.T) {
	store := newMemStore()
	gate, err := NewBounded(map[string]int{"wallet1": 2}, store)
	require.NoError(t, err)

	r, err := gate.Reserve("wallet1", 1)
	require.NoError(t, err)
	require.NoError(t, gate.Commit(r))
	require.NoError(t, gate.Commit(r))
	require.NoError(t, gate.Commit(r))

	consumed, err := store.ConsumedByKey("wallet1")
	require.NoError(t, err)
	assert.Equal(t, 1, consumed)
	assert.Equal(t, 1, gate.Remaining("wallet1"))

	// Releasing after commit must not return quota.
	require.NoError(t, gate.Release(r))
	assert.Equal(t, 1, gate.Remaining("wallet1"))
}

func TestQuotaSurvivesRestart(t *testing.T) {
	store := newMemStore()
	gate, err := NewBounded(map[string]int{"wallet1": 3}, store)
	require.NoError(t, err)

	r, err := gate.Reserve("wallet1", 2)
	require.NoError(t, err)
	require.NoError(t, gate.Commit(r))

	// Rebuild the gate from the same store, as a restart would.
	gate, err = NewBounded(map[string]int{"wallet1": 3}, store)
	require.NoError(t, err)
	assert.Equal(t, 1, gate.Remaining("wallet1"))

	_, err = gate.Reserve("wallet1", 2)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestRecoveryCommitAfterRestart(t *testing.T) {
	store := newMemStore()
	gate, err := NewBounded(map[string]int{"wallet1": 3}, store)
	require.NoError(t, err)

	r, err := gate.Reserve("wallet1", 2)
	require.NoError(t, err)

	// Crash before commit: the gate is rebuilt and the hold is gone from
	// memory, then the orchestrator commits the recovered reservation.
	gate, err = NewBounded(map[string]int{"wallet1": 3}, store)
	require.NoError(t, err)
	assert.Equal(t, 3, gate.Remaining("wallet1"))

	require.NoError(t, gate.Commit(r))
	assert.Equal(t, 1, gate.Remaining("wallet1"))

	consumed, err := store.ConsumedByKey("wallet1")
	require.NoError(t, err)
	assert.Equal(t, 2, consumed)
}

func TestCommitAfterPersistedConsumption(t *testing.T) {
	store := newMemStore()
	gate, err := NewBounded(map[string]int{"wallet1": 3}, store)
	require.NoError(t, err)

	r, err := gate.Reserve("wallet1", 2)
	require.NoError(t, err)
	require.NoError(t, gate.Commit(r))

	// Crash after the consumption was persisted: the rebuilt gate already
	// counts it, and re-running the commit must not subtract it again.
	gate, err = NewBounded(map[string]int{"wallet1": 3}, store)
	require.NoError(t, err)
	require.NoError(t, gate.Commit(r))
	assert.Equal(t, 1, gate.Remaining("wallet1"))

	_, err = gate.Reserve("wallet1", 1)
	assert.NoError(t, err)

	consumed, err := store.ConsumedByKey("wallet1")
	require.NoError(t, err)
	assert.Equal(t, 2, consumed)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	gate, err := NewBounded(map[string]int{"wallet1": 10}, newMemStore())
	require.NoError(t, err)

	granted := make(chan *Reservation, 20)
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			if r, err := gate.Reserve("wallet1", 1); err == nil {
				granted <- r
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 10, count)
	assert.Equal(t, 0, gate.Remaining("wallet1"))
}

func TestLoadKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "asset1"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "asset2"), []byte("5\n"), 0o644))

	keys, err := LoadKeys(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"asset1": 1, "asset2": 5}, keys)
}

func TestLoadKeysRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "asset1"), []byte("lots"), 0o644))

	_, err := LoadKeys(dir, 1)
	assert.Error(t, err)
}

func TestLoadKeysMissingDir(t *testing.T) {
	_, err := LoadKeys(filepath.Join(t.TempDir(), "nope"), 1)
	assert.Error(t, err)
}
