package pricing

import (
	"errors"
	"fmt"

	"github.com/openmint/vendere/internal/models"
)

var (
	// ErrNoMatchingTier is returned when no accepted tier matches the paid
	// asset class.
	ErrNoMatchingTier = errors.New("no matching price tier")
	// ErrBelowMinimum is returned when the payment is below one unit price.
	ErrBelowMinimum = errors.New("payment below minimum tier price")
	// ErrUnevenPayment is returned when the payment is not an exact
	// multiple of the tier price. The engine never guesses an intended
	// unit count; the caller decides whether this is a refund case.
	ErrUnevenPayment = errors.New("payment is not an exact multiple of the tier price")
)

// Tier is one accepted price: the value required per delivered unit.
type Tier struct {
	// UnitPrice is the amount and asset class required per unit.
	UnitPrice models.Value `json:"unit_price"`
}

// Quote is the entitlement computed for an observed payment.
type Quote struct {
	// Units is the purchased unit count.
	Units int64
	// Tier is the tier that matched the payment.
	Tier Tier
}

// Engine maps an observed paid amount to a purchased-unit count against the
// configured tiers. Tiers are tried in declaration order; the first match
// wins.
type Engine struct {
	tiers []Tier
}

// NewEngine creates a pricing engine. At least one tier with a positive
// unit price is required.
func NewEngine(tiers []Tier) (*Engine, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one price tier is required")
	}
	for i, t := range tiers {
		if t.UnitPrice.Amount <= 0 {
			return nil, fmt.Errorf("tier %d: unit price must be positive, got %s", i, t.UnitPrice)
		}
		if t.UnitPrice.Asset == "" {
			return nil, fmt.Errorf("tier %d: unit price asset class is required", i)
		}
	}
	return &Engine{tiers: tiers}, nil
}

// Tiers returns the configured tiers in priority order.
func (e *Engine) Tiers() []Tier {
	return e.tiers
}

// Evaluate maps a paid value to a purchased-unit count. A payment whose
// asset class matches no tier fails with ErrNoMatchingTier; a payment below
// one unit price fails with ErrBelowMinimum; a payment that is not an exact
// integer multiple of the tier price fails with ErrUnevenPayment.
func (e *Engine) Evaluate(paid models.Value) (*Quote, error) {
	matched := false
	for _, t := range e.tiers {
		if t.UnitPrice.Asset != paid.Asset {
			continue
		}
		matched = true
		if paid.Amount < t.UnitPrice.Amount {
			continue
		}
		if paid.Amount%t.UnitPrice.Amount != 0 {
			continue
		}
		return &Quote{Units: paid.Amount / t.UnitPrice.Amount, Tier: t}, nil
	}
	if !matched {
		return nil, fmt.Errorf("paid %s: %w", paid, ErrNoMatchingTier)
	}
	// Distinguish a payment below every matching tier from an uneven one.
	for _, t := range e.tiers {
		if t.UnitPrice.Asset == paid.Asset && paid.Amount >= t.UnitPrice.Amount {
			return nil, fmt.Errorf("paid %s: %w", paid, ErrUnevenPayment)
		}
	}
	return nil, fmt.Errorf("paid %s: %w", paid, ErrBelowMinimum)
}
