package network

import "context"

// UTXOSource lists spendable outputs for an address. The returned order is
// preserved by callers and drives first-fit coin selection.
type UTXOSource interface {
	ListUnspent(ctx context.Context, address string) ([]*UTXO, error)
}

// ParentTxFetcher returns the raw serialized bytes of a transaction.
type ParentTxFetcher interface {
	GetRawTx(ctx context.Context, txid string) ([]byte, error)
}

// Broadcaster submits a raw transaction hex and returns the txid reported by
// the network.
type Broadcaster interface {
	BroadcastTx(ctx context.Context, rawTxHex string) (string, error)
}

// BalanceSource reports confirmed funded minus spent value for an address.
type BalanceSource interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// StatusSource reports the confirmation state of a transaction.
type StatusSource interface {
	GetTxStatus(ctx context.Context, txid string) (*TxStatus, error)
}

// BlockchainService is everything the payment pipeline needs from a backend.
type BlockchainService interface {
	UTXOSource
	ParentTxFetcher
	Broadcaster
	BalanceSource
	StatusSource

	// GetBestBlockHeight returns the height of the current chain tip.
	GetBestBlockHeight(ctx context.Context) (uint64, error)
}

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"amount"`
	ScriptPubKey  string `json:"script_pubkey,omitempty"`
	Address       string `json:"address,omitempty"`
	Confirmations int64  `json:"confirmations"`
}

// TxStatus represents the confirmation status of a transaction.
type TxStatus struct {
	Confirmed     bool   `json:"confirmed"`
	BlockHash     string `json:"block_hash,omitempty"`
	BlockHeight   uint64 `json:"block_height,omitempty"`
	BlockTime     int64  `json:"block_time,omitempty"`
	Confirmations int64  `json:"confirmations"`
}
