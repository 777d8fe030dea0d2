package whitelist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openmint/vendere/internal/models"
)

// ErrQuotaExceeded is returned when a key has less remaining quota than the
// requested unit count.
var ErrQuotaExceeded = errors.New("whitelist quota exceeded")

// Reservation is a quota hold taken by Reserve. It must be either committed
// or released exactly once.
type Reservation struct {
	// ID identifies the reservation for idempotent commit.
	ID string
	// Key is the whitelist key the quota was taken against.
	Key string
	// Count is the number of units held.
	Count int
}

// ConsumptionStore persists quota commitments across restarts.
// AddConsumption must be idempotent per reservation id and report whether
// the record was newly inserted, so a restart-then-retry never decrements
// a quota twice.
type ConsumptionStore interface {
	AddConsumption(c *models.WhitelistConsumption) (bool, error)
	DeleteConsumption(reservationID string) error
	ConsumedByKey(key string) (int, error)
}

// Gate is the whitelist policy contract. Variants are interchangeable and
// selected at configuration time.
type Gate interface {
	// Reserve takes count units of quota for a key, failing with
	// ErrQuotaExceeded when the key has insufficient remaining quota.
	Reserve(key string, count int) (*Reservation, error)
	// Commit durably consumes a reservation. Idempotent per reservation.
	Commit(r *Reservation) error
	// Release restores the quota held by a reservation exactly.
	Release(r *Reservation) error
	// Remaining reports the quota left for a key.
	Remaining(key string) int
}

// LoadKeys reads whitelist keys from a directory: one file per key, the
// filename is the key, an optional numeric file body overrides the default
// quota.
func LoadKeys(dir string, defaultQuota int) (map[string]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read whitelist directory: %w", err)
	}
	keys := make(map[string]int, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		quota := defaultQuota
		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read whitelist entry %s: %w", entry.Name(), err)
		}
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
			parsed, err := strconv.Atoi(trimmed)
			if err != nil {
				return nil, fmt.Errorf("whitelist entry %s has a non-numeric quota %q: %w", entry.Name(), trimmed, err)
			}
			quota = parsed
		}
		keys[entry.Name()] = quota
	}
	return keys, nil
}
