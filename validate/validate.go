// Package validate holds the pure checks applied to payment parameters
// before any UTXO is selected: address decoding for a network, amount
// sanity, and the dust threshold.
package validate

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitfsorg/libbtctx-go/wallet"
)

const (
	// DustThreshold is the smallest output value, in satoshis, the network relays.
	DustThreshold = 546

	// MaxSupplyBTC is the protocol's maximum supply in whole coins.
	MaxSupplyBTC = 21_000_000

	// MaxSatoshis is MaxSupplyBTC expressed in satoshis.
	MaxSatoshis = MaxSupplyBTC * btcutil.SatoshiPerBitcoin
)

// IsValidAddress reports whether address decodes under net's parameters and
// can be turned into a locking script. Decode errors are swallowed.
func IsValidAddress(address string, net wallet.Network) bool {
	params := net.ChainParams()
	if params == nil || address == "" {
		return false
	}
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return false
	}
	if !addr.IsForNet(params) {
		return false
	}
	if _, err := txscript.PayToAddrScript(addr); err != nil {
		return false
	}
	return true
}

// IsValidMnemonic reports whether mnemonic passes BIP39 checksum validation.
func IsValidMnemonic(mnemonic string) bool {
	return wallet.ValidateMnemonic(mnemonic)
}

// IsValidAmount reports whether sats is strictly positive and within supply.
func IsValidAmount(sats int64) bool {
	return sats > 0 && sats <= MaxSatoshis
}

// IsValidAmountBTC is IsValidAmount for a whole-coin float amount. NaN and
// infinities are rejected.
func IsValidAmountBTC(btc float64) bool {
	if math.IsNaN(btc) || math.IsInf(btc, 0) {
		return false
	}
	if btc <= 0 || btc > MaxSupplyBTC {
		return false
	}
	_, err := btcutil.NewAmount(btc)
	return err == nil
}

// ValidateTransactionParams checks recipient, amount and dust in that order and
// returns a *ValidationError describing the first failure.
func ValidateTransactionParams(recipient string, amountSats int64, net wallet.Network) error {
	if !IsValidAddress(recipient, net) {
		return &ValidationError{
			Field:  "recipient",
			Reason: fmt.Sprintf("%q is not a valid %s address", recipient, net),
			Err:    ErrInvalidAddress,
		}
	}
	if !IsValidAmount(amountSats) {
		return &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("%d sats must be in 1..%d", amountSats, int64(MaxSatoshis)),
			Err:    ErrInvalidAmount,
		}
	}
	if amountSats < DustThreshold {
		return &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("%d sats is below the %d sat dust threshold", amountSats, DustThreshold),
			Err:    ErrBelowDust,
		}
	}
	return nil
}
