package pricing

// Bogo is a buy-N-get-M bonus policy: for every Threshold purchased units
// the buyer receives Bonus extra units. It is deterministic and
// side-effect-free; the caller reserves the bonus units from the pool.
type Bogo struct {
	// Threshold is the purchased-unit count that earns a bonus.
	Threshold int64
	// Bonus is the number of extra units granted per threshold reached.
	Bonus int64
}

// NewBogo creates a buy-N-get-M policy.
func NewBogo(threshold, bonus int64) *Bogo {
	return &Bogo{Threshold: threshold, Bonus: bonus}
}

// BonusFor returns the bonus unit count for a purchased unit count.
// A nil policy grants no bonus.
func (b *Bogo) BonusFor(units int64) int64 {
	if b == nil || b.Threshold <= 0 || units <= 0 {
		return 0
	}
	return units / b.Threshold * b.Bonus
}
