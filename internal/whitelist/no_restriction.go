package whitelist

import "github.com/google/uuid"

// NoRestriction is the open-sale gate: every reservation succeeds and
// commit/release are no-ops.
type NoRestriction struct{}

// NewNoRestriction creates an unrestricted gate.
func NewNoRestriction() *NoRestriction {
	return &NoRestriction{}
}

func (NoRestriction) Reserve(key string, count int) (*Reservation, error) {
	return &Reservation{ID: uuid.NewString(), Key: key, Count: count}, nil
}

func (NoRestriction) Commit(*Reservation) error { return nil }

func (NoRestriction) Release(*Reservation) error { return nil }

func (NoRestriction) Remaining(string) int { return int(^uint(0) >> 1) }
