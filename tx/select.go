package tx

import (
	"fmt"
	"math"
)

// UTXO is an unspent output offered for selection. TxID is in display
// (byte-reversed) hex.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"amount"` // satoshis
	Confirmations int64  `json:"confirmations"`
}

// Selection is the outcome of coin selection.
type Selection struct {
	Inputs     []UTXO
	Fee        uint64
	InputTotal uint64
}

// Change returns what is left of the inputs after paying target and the fee.
func (s *Selection) Change(target uint64) uint64 {
	if s.InputTotal < target+s.Fee {
		return 0
	}
	return s.InputTotal - target - s.Fee
}

// CoinSelector picks inputs covering target plus a fee at feeRate sat/vbyte.
type CoinSelector interface {
	Select(utxos []UTXO, target, feeRate uint64) (*Selection, error)
}

var _ CoinSelector = FirstFitSelector{}

// FirstFitSelector scans UTXOs in the order given and stops at the shortest
// prefix whose total reaches target + fee.
//
// The fee is EstimatedSize * feeRate, computed once and not revised as inputs
// are added. Each extra P2WPKH input adds about 68 vbytes, so the fee is
// understated for selections with many small inputs.
type FirstFitSelector struct {
	// EstimatedSize in vbytes; zero means EstimatedTxSize.
	EstimatedSize int
}

// Select implements CoinSelector.
func (f FirstFitSelector) Select(utxos []UTXO, target, feeRate uint64) (*Selection, error) {
	if target == 0 {
		return nil, fmt.Errorf("%w: target amount must be positive", ErrInvalidParams)
	}
	size := f.EstimatedSize
	if size <= 0 {
		size = EstimatedTxSize
	}
	fee, err := EstimateFee(size, feeRate)
	if err != nil {
		return nil, err
	}
	if target > math.MaxUint64-fee {
		return nil, fmt.Errorf("%w: target %d overflows with fee %d", ErrInvalidParams, target, fee)
	}
	needed := target + fee

	var total uint64
	for i, u := range utxos {
		total += u.Amount
		if total >= needed {
			selected := make([]UTXO, i+1)
			copy(selected, utxos[:i+1])
			return &Selection{Inputs: selected, Fee: fee, InputTotal: total}, nil
		}
	}
	return nil, &InsufficientFundsError{Needed: needed, Available: total}
}

// SelectUTXOs runs the default first-fit selection.
func SelectUTXOs(utxos []UTXO, target, feeRate uint64) (*Selection, error) {
	return FirstFitSelector{}.Select(utxos, target, feeRate)
}
