package whitelist

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmint/vendere/internal/models"
)

// BoundedGate enforces a per-key quota. Remaining quota is reconstructed at
// startup from the consumption store, so committed vends survive restarts.
type BoundedGate struct {
	mu        sync.Mutex
	remaining map[string]int
	// pending holds reservations taken but not yet committed or released.
	pending map[string]*Reservation
	// committed marks reservation ids already persisted so a repeated
	// Commit never decrements twice.
	committed map[string]bool
	store     ConsumptionStore
}

// NewBounded creates a gate where each key starts with its configured
// quota, minus whatever the store already recorded as consumed.
func NewBounded(keys map[string]int, store ConsumptionStore) (*BoundedGate, error) {
	remaining := make(map[string]int, len(keys))
	for key, quota := range keys {
		if quota < 0 {
			return nil, fmt.Errorf("whitelist key %s has a negative quota %d", key, quota)
		}
		consumed, err := store.ConsumedByKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to load consumed quota for %s: %w", key, err)
		}
		left := quota - consumed
		if left < 0 {
			left = 0
		}
		remaining[key] = left
	}
	return &BoundedGate{
		remaining: remaining,
		pending:   make(map[string]*Reservation),
		committed: make(map[string]bool),
		store:     store,
	}, nil
}

// NewSingleUse creates a gate where every listed key may claim exactly one
// unit in total.
func NewSingleUse(keys []string, store ConsumptionStore) (*BoundedGate, error) {
	quotas := make(map[string]int, len(keys))
	for _, key := range keys {
		quotas[key] = 1
	}
	return NewBounded(quotas, store)
}

func (g *BoundedGate) Reserve(key string, count int) (*Reservation, error) {
	if count <= 0 {
		return nil, fmt.Errorf("reservation count must be positive, got %d", count)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	left, listed := g.remaining[key]
	if !listed {
		return nil, fmt.Errorf("key %s is not whitelisted: %w", key, ErrQuotaExceeded)
	}
	if left < count {
		return nil, fmt.Errorf("key %s has %d units left, requested %d: %w", key, left, count, ErrQuotaExceeded)
	}
	g.remaining[key] = left - count
	r := &Reservation{ID: uuid.NewString(), Key: key, Count: count}
	g.pending[r.ID] = r
	return r, nil
}

func (g *BoundedGate) Commit(r *Reservation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.committed[r.ID] {
		return nil
	}
	_, wasPending := g.pending[r.ID]
	inserted, err := g.store.AddConsumption(&models.WhitelistConsumption{
		ReservationID: r.ID,
		Key:           r.Key,
		Count:         r.Count,
		ConsumedAt:    time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to persist whitelist consumption: %w", err)
	}
	g.committed[r.ID] = true
	delete(g.pending, r.ID)
	if !wasPending && inserted {
		// Recovery path: the reservation was taken before a restart, so
		// the in-memory remaining count never saw its hold. A consumption
		// the store already knew was counted at startup and must not be
		// subtracted twice.
		if left := g.remaining[r.Key] - r.Count; left >= 0 {
			g.remaining[r.Key] = left
		} else {
			g.remaining[r.Key] = 0
		}
	}
	return nil
}

func (g *BoundedGate) Release(r *Reservation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Only a still-pending reservation returns quota; releasing a
	// committed or unknown reservation is a no-op.
	if _, ok := g.pending[r.ID]; !ok {
		return nil
	}
	delete(g.pending, r.ID)
	g.remaining[r.Key] += r.Count
	return nil
}

func (g *BoundedGate) Remaining(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining[key]
}
