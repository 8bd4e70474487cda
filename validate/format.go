package validate

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dustin/go-humanize"
)

// BTCToSatoshis converts whole coins to satoshis, rounding half away from zero.
func BTCToSatoshis(btc float64) int64 {
	return int64(math.Round(btc * btcutil.SatoshiPerBitcoin))
}

// SatoshisToBTC converts satoshis to whole coins.
func SatoshisToBTC(sats int64) float64 {
	return btcutil.Amount(sats).ToBTC()
}

// FormatBTC renders a coin amount with eight decimals, e.g. "0.00010000 BTC".
func FormatBTC(btc float64) string {
	return fmt.Sprintf("%.8f BTC", btc)
}

// FormatSatoshis renders a satoshi count with thousands separators, e.g. "10,000 sats".
func FormatSatoshis(sats int64) string {
	return humanize.Comma(sats) + " sats"
}
