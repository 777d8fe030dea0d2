package models

import "fmt"

// Lovelace is the asset identifier of the chain's native currency.
const Lovelace = "lovelace"

// Value is an immutable quantity of a single asset class.
// On-chain asset classes are identified by "<policy_id><asset_name_hex>",
// the native currency by Lovelace. All arithmetic is integer-exact.
type Value struct {
	// Amount is the quantity in the asset's smallest unit.
	Amount int64 `json:"amount"`
	// Asset is the asset class identifier.
	Asset string `json:"asset"`
}

// NewValue creates a new Value.
func NewValue(amount int64, asset string) Value {
	return Value{Amount: amount, Asset: asset}
}

// Lovelaces is a shorthand for a native currency Value.
func Lovelaces(amount int64) Value {
	return Value{Amount: amount, Asset: Lovelace}
}

// Add returns v + o. Both values must belong to the same asset class.
func (v Value) Add(o Value) (Value, error) {
	if v.Asset != o.Asset {
		return Value{}, fmt.Errorf("cannot add %s to %s: %w", o.Asset, v.Asset, ErrIncomparableAssets)
	}
	return Value{Amount: v.Amount + o.Amount, Asset: v.Asset}, nil
}

// Sub returns v - o. The result may be negative so callers can detect
// shortfall; use Deduct when a non-negative result is required.
func (v Value) Sub(o Value) (Value, error) {
	if v.Asset != o.Asset {
		return Value{}, fmt.Errorf("cannot subtract %s from %s: %w", o.Asset, v.Asset, ErrIncomparableAssets)
	}
	return Value{Amount: v.Amount - o.Amount, Asset: v.Asset}, nil
}

// Deduct returns v - o and fails with ErrInsufficientValue if the result
// would be negative.
func (v Value) Deduct(o Value) (Value, error) {
	res, err := v.Sub(o)
	if err != nil {
		return Value{}, err
	}
	if res.Amount < 0 {
		return Value{}, fmt.Errorf("deducting %s from %s: %w", o, v, ErrInsufficientValue)
	}
	return res, nil
}

// Scale returns v multiplied by an integer count.
func (v Value) Scale(n int64) Value {
	return Value{Amount: v.Amount * n, Asset: v.Asset}
}

// Cmp compares two values of the same asset class. It returns -1, 0 or 1.
// Comparison across asset classes is undefined and fails.
func (v Value) Cmp(o Value) (int, error) {
	if v.Asset != o.Asset {
		return 0, fmt.Errorf("cannot compare %s to %s: %w", v.Asset, o.Asset, ErrIncomparableAssets)
	}
	switch {
	case v.Amount < o.Amount:
		return -1, nil
	case v.Amount > o.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// IsZero reports whether the value carries no amount.
func (v Value) IsZero() bool {
	return v.Amount == 0
}

func (v Value) String() string {
	return fmt.Sprintf("%d %s", v.Amount, v.Asset)
}
