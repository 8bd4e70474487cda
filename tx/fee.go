package tx

import (
	"fmt"
	"math"
)

const (
	// EstimatedTxSize is the fixed size, in vbytes, assumed for every spend:
	// roughly one P2WPKH input and two P2WPKH outputs.
	EstimatedTxSize = 250

	// DefaultFeeRate is the fee rate in sat/vbyte callers fall back to when
	// none is configured. The tx layer itself never substitutes it.
	DefaultFeeRate = uint64(1)

	// MaxFeeRate is the highest fee rate, in sat/vbyte, accepted from users.
	MaxFeeRate = uint64(10_000)

	// Weight units of a P2WPKH spend, used by EstimateVSize.
	txOverheadWeight   = 4*(4+1+1+4) + 2 // version, counts, locktime; marker and flag
	p2wpkhInputWeight  = 4*(32+4+1+4) + (1 + 1 + 72 + 1 + 33)
	p2wpkhOutputWeight = 4 * (8 + 1 + 22)
)

// EstimateFee returns sizeVBytes * feeRate. A zero rate, or a product that
// does not fit in uint64, is rejected with ErrInvalidParams.
func EstimateFee(sizeVBytes int, feeRate uint64) (uint64, error) {
	if feeRate == 0 {
		return 0, fmt.Errorf("%w: fee rate must be positive", ErrInvalidParams)
	}
	if sizeVBytes <= 0 {
		return 0, nil
	}
	size := uint64(sizeVBytes)
	if feeRate > math.MaxUint64/size {
		return 0, fmt.Errorf("%w: fee rate %d overflows for %d vbytes", ErrInvalidParams, feeRate, size)
	}
	return size * feeRate, nil
}

// EstimateVSize estimates the virtual size of a transaction spending numInputs
// P2WPKH outputs into numOutputs P2WPKH outputs, assuming 72-byte signatures.
// FirstFitSelector does not use it; it is for callers that want a size that
// grows with the input count.
func EstimateVSize(numInputs, numOutputs int) int64 {
	if numInputs < 0 {
		numInputs = 0
	}
	if numOutputs < 0 {
		numOutputs = 0
	}
	weight := int64(txOverheadWeight) +
		int64(numInputs)*p2wpkhInputWeight +
		int64(numOutputs)*p2wpkhOutputWeight
	return (weight + 3) / 4
}
