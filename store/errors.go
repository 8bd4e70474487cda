package store

import "errors"

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("store: required parameter is nil")

	// ErrWalletNotFound indicates no wallet is stored under the name.
	ErrWalletNotFound = errors.New("store: wallet not found")

	// ErrDuplicateWallet indicates a wallet with this name already exists.
	ErrDuplicateWallet = errors.New("store: duplicate wallet")

	// ErrInvalidName indicates an empty or oversized wallet name.
	ErrInvalidName = errors.New("store: invalid wallet name")

	// ErrTxNotFound indicates the transaction was not found in the local store.
	ErrTxNotFound = errors.New("store: transaction not found")

	// ErrInvalidTxID indicates the transaction ID is not 64 hex characters.
	ErrInvalidTxID = errors.New("store: invalid transaction ID")

	// ErrCorruptRecord indicates a stored value failed to decode.
	ErrCorruptRecord = errors.New("store: corrupt record")
)
