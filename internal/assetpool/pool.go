package assetpool

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openmint/vendere/internal/models"
)

// ErrInsufficientInventory is returned when fewer assets remain available
// than a reservation requests. Exhaustion is reported, never capped.
var ErrInsufficientInventory = errors.New("insufficient asset inventory")

// RecordStore persists asset delivery states across restarts.
type RecordStore interface {
	SaveAssetRecord(r *models.AssetRecord) error
	ListAssetRecords() ([]*models.AssetRecord, error)
	SetAssetStates(names []string, state models.AssetState) error
}

// Pool is the set of not-yet-delivered asset records. Reservation removes a
// record from the available set immediately, so no record can be handed to
// two concurrent vend attempts.
type Pool struct {
	mu        sync.Mutex
	available []models.AssetRecord // kept in lexicographic order by name
	reserved  map[string]models.AssetRecord
	delivered map[string]bool
	random    bool
	rng       *rand.Rand
	store     RecordStore
}

// New builds a pool from the store's current records. When random is true,
// selection is uniform-without-replacement driven by rng; otherwise records
// are served in lexicographic name order. The rng is injected so tests can
// assert determinism under a fixed seed.
func New(store RecordStore, random bool, rng *rand.Rand) (*Pool, error) {
	records, err := store.ListAssetRecords()
	if err != nil {
		return nil, fmt.Errorf("failed to load asset records: %w", err)
	}
	p := &Pool{
		reserved:  make(map[string]models.AssetRecord),
		delivered: make(map[string]bool),
		random:    random,
		rng:       rng,
		store:     store,
	}
	for _, r := range records {
		switch r.State {
		case models.AssetAvailable:
			p.available = append(p.available, *r)
		case models.AssetReserved:
			// A reservation that survived a restart stays out of the
			// available set until the orchestrator commits or releases it.
			p.reserved[r.Name] = *r
		case models.AssetDelivered:
			p.delivered[r.Name] = true
		}
	}
	sort.Slice(p.available, func(i, j int) bool {
		return p.available[i].Name < p.available[j].Name
	})
	return p, nil
}

// SyncDir loads every .json metadata descriptor in dir into the store as an
// available record. Records the store already knows keep their state, so
// delivered assets are never re-offered.
func SyncDir(store RecordStore, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read metadata directory: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record := &models.AssetRecord{
			Name:         strings.TrimSuffix(entry.Name(), ".json"),
			MetadataPath: filepath.Join(dir, entry.Name()),
			State:        models.AssetAvailable,
			UpdatedAt:    time.Now().Unix(),
		}
		if err := store.SaveAssetRecord(record); err != nil {
			return fmt.Errorf("failed to save asset record %s: %w", record.Name, err)
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("metadata directory %s contains no .json descriptors", dir)
	}
	return nil
}

// Reserve atomically selects count records and moves them from available to
// reserved, durably. Fails with ErrInsufficientInventory when fewer than
// count records remain.
func (p *Pool) Reserve(count int) ([]models.AssetRecord, error) {
	if count <= 0 {
		return nil, fmt.Errorf("reservation count must be positive, got %d", count)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.available) < count {
		return nil, fmt.Errorf("%d requested, %d available: %w", count, len(p.available), ErrInsufficientInventory)
	}

	picked := make([]models.AssetRecord, 0, count)
	if p.random {
		for i := 0; i < count; i++ {
			idx := p.rng.Intn(len(p.available))
			picked = append(picked, p.available[idx])
			p.available = append(p.available[:idx], p.available[idx+1:]...)
		}
	} else {
		picked = append(picked, p.available[:count]...)
		p.available = p.available[count:]
	}

	names := make([]string, len(picked))
	for i, r := range picked {
		r.State = models.AssetReserved
		p.reserved[r.Name] = r
		names[i] = r.Name
		picked[i] = r
	}
	if err := p.store.SetAssetStates(names, models.AssetReserved); err != nil {
		// Durability failed: put the records back before reporting.
		for _, r := range picked {
			delete(p.reserved, r.Name)
			r.State = models.AssetAvailable
			p.available = append(p.available, r)
		}
		sort.Slice(p.available, func(i, j int) bool {
			return p.available[i].Name < p.available[j].Name
		})
		return nil, fmt.Errorf("failed to persist asset reservation: %w", err)
	}
	return picked, nil
}

// Commit durably marks reserved records as delivered. Already-delivered
// records are a no-op, not an error, to tolerate restart-then-retry.
func (p *Pool) Commit(records []models.AssetRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(records))
	for _, r := range records {
		if p.delivered[r.Name] {
			continue
		}
		names = append(names, r.Name)
	}
	if len(names) == 0 {
		return nil
	}
	if err := p.store.SetAssetStates(names, models.AssetDelivered); err != nil {
		return fmt.Errorf("failed to persist asset delivery: %w", err)
	}
	for _, name := range names {
		delete(p.reserved, name)
		p.delivered[name] = true
	}
	return nil
}

// Release returns reserved records to the available set. Records already
// delivered are left untouched.
func (p *Pool) Release(records []models.AssetRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := p.reserved[r.Name]; !ok {
			continue
		}
		names = append(names, r.Name)
	}
	if len(names) == 0 {
		return nil
	}
	if err := p.store.SetAssetStates(names, models.AssetAvailable); err != nil {
		return fmt.Errorf("failed to persist asset release: %w", err)
	}
	for _, name := range names {
		record := p.reserved[name]
		delete(p.reserved, name)
		record.State = models.AssetAvailable
		p.available = append(p.available, record)
	}
	sort.Slice(p.available, func(i, j int) bool {
		return p.available[i].Name < p.available[j].Name
	})
	return nil
}

// Available reports how many records may still be reserved.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Reserved reports how many records are held by in-flight attempts.
func (p *Pool) Reserved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserved)
}
