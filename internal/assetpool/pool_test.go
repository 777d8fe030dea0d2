package assetpool

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmint/vendere/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*models.AssetRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.AssetRecord)}
}

func (s *memStore) SaveAssetRecord(r *models.AssetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.Name]; ok {
		return nil
	}
	clone := *r
	s.records[r.Name] = &clone
	return nil
}

func (s *memStore) ListAssetRecords() ([]*models.AssetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AssetRecord, 0, len(s.records))
	for _, r := range s.records {
		clone := *r
		out = append(out, &clone)
	}
	return out, nil
}

func (s *memStore) SetAssetStates(names []string, state models.AssetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if r, ok := s.records[name]; ok {
			r.State = state
		}
	}
	return nil
}

func seedStore(t *testing.T, names ...string) *memStore {
	t.Helper()
	store := newMemStore()
	for _, name := range names {
		require.NoError(t, store.SaveAssetRecord(&models.AssetRecord{
			Name:         name,
			MetadataPath: name + ".json",
			State:        models.AssetAvailable,
		}))
	}
	return store
}

func TestReserveDeterministicOrder(t *testing.T) {
	store := seedStore(t, "WenDog003", "WenDog001", "WenDog002")
	pool, err := New(store, false, nil)
	require.NoError(t, err)

	records, err := pool.Reserve(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "WenDog001", records[0].Name)
	assert.Equal(t, "WenDog002", records[1].Name)
	assert.Equal(t, 1, pool.Available())
	assert.Equal(t, 2, pool.Reserved())
}

func TestReserveRandomDeterministicUnderSeed(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f"}

	pick := func() []string {
		pool, err := New(seedStore(t, names...), true, rand.New(rand.NewSource(42)))
		require.NoError(t, err)
		records, err := pool.Reserve(3)
		require.NoError(t, err)
		got := make([]string, len(records))
		for i, r := range records {
			got[i] = r.Name
		}
		return got
	}

	first := pick()
	second := pick()
	assert.Equal(t, first, second)
}

func TestReserveRandomNoDuplicates(t *testing.T) {
	pool, err := New(seedStore(t, "a", "b", "c", "d"), true, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	records, err := pool.Reserve(4)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, r := range records {
		assert.False(t, seen[r.Name], "record %s returned twice", r.Name)
		seen[r.Name] = true
	}
}

func TestReserveInsufficientInventory(t *testing.T) {
	pool, err := New(seedStore(t, "a", "b"), false, nil)
	require.NoError(t, err)

	_, err = pool.Reserve(3)
	assert.ErrorIs(t, err, ErrInsufficientInventory)
	// Nothing is partially reserved.
	assert.Equal(t, 2, pool.Available())
}

func TestConcurrentReserveNeverSharesRecords(t *testing.T) {
	names := make([]string, 40)
	for i := range names {
		names[i] = string(rune('a'+i/26)) + string(rune('a'+i%26))
	}
	pool, err := New(seedStore(t, names...), true, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := pool.Reserve(4)
			if err != nil {
				return
			}
			mu.Lock()
			for _, r := range records {
				seen[r.Name]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 40)
	for name, count := range seen {
		assert.Equal(t, 1, count, "record %s reserved %d times", name, count)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	store := seedStore(t, "a", "b")
	pool, err := New(store, false, nil)
	require.NoError(t, err)

	records, err := pool.Reserve(2)
	require.NoError(t, err)
	require.NoError(t, pool.Commit(records))
	require.NoError(t, pool.Commit(records))

	assert.Equal(t, 0, pool.Available())
	assert.Equal(t, 0, pool.Reserved())
}

func TestReleaseReturnsRecords(t *testing.T) {
	store := seedStore(t, "a", "b", "c")
	pool, err := New(store, false, nil)
	require.NoError(t, err)

	records, err := pool.Reserve(2)
	require.NoError(t, err)
	require.NoError(t, pool.Release(records))

	assert.Equal(t, 3, pool.Available())
	assert.Equal(t, 0, pool.Reserved())

	// Released records come back in lexicographic position.
	again, err := pool.Reserve(1)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Name)
}

func TestDeliveredNeverReofferedAfterRestart(t *testing.T) {
	store := seedStore(t, "a", "b", "c")
	pool, err := New(store, false, nil)
	require.NoError(t, err)

	records, err := pool.Reserve(1)
	require.NoError(t, err)
	require.NoError(t, pool.Commit(records))

	// Restart: rebuild the pool from the same store.
	pool, err = New(store, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Available())

	got, err := pool.Reserve(2)
	require.NoError(t, err)
	for _, r := range got {
		assert.NotEqual(t, "a", r.Name)
	}
}

func TestReservedStaysReservedAfterRestart(t *testing.T) {
	store := seedStore(t, "a", "b", "c")
	pool, err := New(store, false, nil)
	require.NoError(t, err)

	records, err := pool.Reserve(2)
	require.NoError(t, err)

	// Crash between Reserved and Submitted: the new pool must not offer
	// the reserved records again.
	pool, err = New(store, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Available())
	assert.Equal(t, 2, pool.Reserved())

	// The orchestrator later releases the recovered reservation.
	require.NoError(t, pool.Release(records))
	assert.Equal(t, 3, pool.Available())
}

func TestSyncDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"WenDog001.json", "WenDog002.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	store := newMemStore()
	require.NoError(t, SyncDir(store, dir))

	records, err := store.ListAssetRecords()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// A delivered record keeps its state on re-sync.
	require.NoError(t, store.SetAssetStates([]string{"WenDog001"}, models.AssetDelivered))
	require.NoError(t, SyncDir(store, dir))
	pool, err := New(store, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Available())
}

func TestSyncDirEmpty(t *testing.T) {
	assert.Error(t, SyncDir(newMemStore(), t.TempDir()))
}
