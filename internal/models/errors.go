package models

import "errors"

// Value arithmetic errors.
var (
	// ErrInsufficientValue is returned when a deduction would produce a
	// negative amount.
	ErrInsufficientValue = errors.New("insufficient value")
	// ErrIncomparableAssets is returned on arithmetic or comparison across
	// different asset classes.
	ErrIncomparableAssets = errors.New("incomparable asset classes")
)

// ErrSubmissionRejected is returned by a SignerService when the external
// signing tool refuses to sign or broadcast a transaction plan.
var ErrSubmissionRejected = errors.New("submission rejected")
