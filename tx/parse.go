package tx

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"github.com/bitfsorg/libbtctx-go/wallet"
)

// OutPoint references an output of an earlier transaction.
type OutPoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// ParsedTransaction is the decoded view of a serialized transaction.
type ParsedTransaction struct {
	TxID       string
	Version    int32
	LockTime   uint32
	Inputs     []OutPoint
	Outputs    []Output // Address is empty for non-standard scripts
	HasWitness bool
	VSize      int64
	Weight     int64
}

// ParseTransaction decodes raw and resolves output addresses for net.
func ParseTransaction(raw []byte, net wallet.Network) (*ParsedTransaction, error) {
	params := net.ChainParams()
	if params == nil {
		return nil, fmt.Errorf("%w: %d", wallet.ErrInvalidNetwork, net)
	}
	msgTx, err := decodeTx(raw)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedTransaction{
		TxID:       msgTx.TxHash().String(),
		Version:    msgTx.Version,
		LockTime:   msgTx.LockTime,
		Inputs:     make([]OutPoint, 0, len(msgTx.TxIn)),
		Outputs:    make([]Output, 0, len(msgTx.TxOut)),
		HasWitness: msgTx.HasWitness(),
		Weight:     txWeight(msgTx),
	}
	parsed.VSize = (parsed.Weight + 3) / 4

	for _, in := range msgTx.TxIn {
		parsed.Inputs = append(parsed.Inputs, OutPoint{
			TxID: in.PreviousOutPoint.Hash.String(),
			Vout: in.PreviousOutPoint.Index,
		})
	}
	for i, out := range msgTx.TxOut {
		if out.Value < 0 {
			return nil, fmt.Errorf("%w: output %d has negative value", ErrInvalidTransaction, i)
		}
		var address string
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
		if err == nil && len(addrs) == 1 {
			address = addrs[0].EncodeAddress()
		}
		parsed.Outputs = append(parsed.Outputs, Output{
			Address:  address,
			Amount:   uint64(out.Value),
			PkScript: out.PkScript,
		})
	}
	return parsed, nil
}
