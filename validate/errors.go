package validate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress indicates the recipient does not decode for the network.
	ErrInvalidAddress = errors.New("validate: invalid recipient address")

	// ErrInvalidAmount indicates a non-positive, non-finite, or above-supply amount.
	ErrInvalidAmount = errors.New("validate: invalid amount")

	// ErrBelowDust indicates the amount is below the dust threshold.
	ErrBelowDust = errors.New("validate: amount below dust threshold")
)

// ValidationError describes which payment parameter was rejected and why.
type ValidationError struct {
	Field  string // "recipient" or "amount"
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
