package tx

import (
	"context"
	"fmt"
)

// ParentTxFetcher returns the raw serialized bytes of a transaction by id.
type ParentTxFetcher interface {
	GetRawTx(ctx context.Context, txid string) ([]byte, error)
}

// Input is a selected UTXO together with its parent transaction's raw bytes.
type Input struct {
	UTXO
	ParentTx []byte
}

// FetchParents pairs each UTXO with its parent transaction. A txid shared by
// several UTXOs is fetched once. The first failure aborts; nothing is retried.
func FetchParents(ctx context.Context, fetcher ParentTxFetcher, utxos []UTXO) ([]Input, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", ErrNilParam)
	}

	fetched := make(map[string][]byte, len(utxos))
	inputs := make([]Input, 0, len(utxos))
	for _, u := range utxos {
		raw, ok := fetched[u.TxID]
		if !ok {
			var err error
			raw, err = fetcher.GetRawTx(ctx, u.TxID)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrParentFetch, u.TxID, err)
			}
			if len(raw) == 0 {
				return nil, fmt.Errorf("%w: %s: empty response", ErrParentFetch, u.TxID)
			}
			fetched[u.TxID] = raw
		}
		inputs = append(inputs, Input{UTXO: u, ParentTx: raw})
	}
	return inputs, nil
}
