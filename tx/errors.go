package tx

import (
	"errors"
	"fmt"
)

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("tx: required parameter is nil")

	// ErrInsufficientFunds indicates the UTXO set cannot cover the amount plus fee.
	ErrInsufficientFunds = errors.New("tx: insufficient funds")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("tx: invalid parameters")

	// ErrParentFetch indicates a parent transaction could not be fetched.
	ErrParentFetch = errors.New("tx: parent transaction fetch failed")

	// ErrParentMismatch indicates parent bytes do not match the UTXO they fund.
	ErrParentMismatch = errors.New("tx: parent transaction does not match UTXO")

	// ErrDuplicateInput indicates the same outpoint was added twice.
	ErrDuplicateInput = errors.New("tx: duplicate input")

	// ErrInvalidOutput indicates an output address or amount was rejected.
	ErrInvalidOutput = errors.New("tx: invalid output")

	// ErrInvalidState indicates an operation was attempted out of order.
	ErrInvalidState = errors.New("tx: invalid transaction state")

	// ErrUnbalanced indicates outputs, fee and absorbed dust do not sum to the inputs.
	ErrUnbalanced = errors.New("tx: inputs do not balance outputs and fee")

	// ErrKeyMismatch indicates the signing key does not own an input's locking script.
	ErrKeyMismatch = errors.New("tx: private key does not match input script")

	// ErrSigningFailed indicates transaction signing failed.
	ErrSigningFailed = errors.New("tx: signing failed")

	// ErrInvalidTransaction indicates raw bytes do not decode as a transaction.
	ErrInvalidTransaction = errors.New("tx: invalid transaction encoding")
)

// InsufficientFundsError reports how much a selection needed against what the
// UTXO set held. It matches ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	Needed    uint64 // target + fee
	Available uint64 // sum of every UTXO offered
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: need %d sats, have %d sats", ErrInsufficientFunds, e.Needed, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientFunds) hold.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Shortfall returns Needed - Available.
func (e *InsufficientFundsError) Shortfall() uint64 {
	if e.Available >= e.Needed {
		return 0
	}
	return e.Needed - e.Available
}
