package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfsorg/libbtctx-go/network"
	"github.com/bitfsorg/libbtctx-go/tx"
	"github.com/bitfsorg/libbtctx-go/validate"
	"github.com/bitfsorg/libbtctx-go/wallet"
)

// ErrorKind names the pipeline stage a failure belongs to.
type ErrorKind string

// Error kinds reported in TransactionResult.
const (
	KindDerivation        ErrorKind = "derivation"
	KindValidation        ErrorKind = "validation"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindSigning           ErrorKind = "signing"
	KindNetwork           ErrorKind = "network"
)

// Error tags a pipeline failure with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// ErrFromAddressMismatch indicates the sender address does not belong to the key.
var ErrFromAddressMismatch = errors.New("payment: from address does not match private key")

// Classify maps err onto an ErrorKind. Errors already tagged by the pipeline
// keep their kind; anything unrecognized is treated as a collaborator failure.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ve *validate.ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, validate.ErrInvalidAddress),
		errors.Is(err, validate.ErrInvalidAmount),
		errors.Is(err, validate.ErrBelowDust),
		errors.Is(err, ErrFromAddressMismatch),
		errors.Is(err, tx.ErrInvalidParams),
		errors.Is(err, tx.ErrInvalidOutput):
		return KindValidation

	case errors.Is(err, tx.ErrInsufficientFunds):
		return KindInsufficientFunds

	case errors.Is(err, wallet.ErrInvalidMnemonic),
		errors.Is(err, wallet.ErrInvalidSeed),
		errors.Is(err, wallet.ErrDerivationFailed),
		errors.Is(err, wallet.ErrKeyOutOfRange),
		errors.Is(err, wallet.ErrInvalidPrivateKey),
		errors.Is(err, wallet.ErrInvalidNetwork):
		return KindDerivation

	case errors.Is(err, tx.ErrParentFetch),
		errors.Is(err, tx.ErrParentMismatch),
		errors.Is(err, network.ErrConnectionFailed),
		errors.Is(err, network.ErrAuthFailed),
		errors.Is(err, network.ErrTxNotFound),
		errors.Is(err, network.ErrBroadcastRejected),
		errors.Is(err, network.ErrInvalidResponse),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindNetwork

	case errors.Is(err, tx.ErrKeyMismatch),
		errors.Is(err, tx.ErrSigningFailed),
		errors.Is(err, tx.ErrInvalidState),
		errors.Is(err, tx.ErrUnbalanced),
		errors.Is(err, tx.ErrDuplicateInput),
		errors.Is(err, tx.ErrInvalidTransaction),
		errors.Is(err, tx.ErrNilParam):
		return KindSigning
	}
	return KindNetwork
}
