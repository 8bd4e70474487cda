package network

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Compile-time interface check.
var _ BlockchainService = (*RPCClient)(nil)

// btcToSat converts a BTC amount as returned by the node to satoshis.
// Negative, non-finite and above-supply amounts are ErrInvalidResponse.
func btcToSat(btc float64) (uint64, error) {
	amt, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %v: %v", ErrInvalidResponse, btc, err)
	}
	if amt < 0 || amt > btcutil.MaxSatoshi {
		return 0, fmt.Errorf("%w: amount %v out of range", ErrInvalidResponse, btc)
	}
	return uint64(amt), nil
}

// listUnspentResult maps the JSON fields returned by the Bitcoin RPC listunspent call.
type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Amount        float64 `json:"amount"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Address       string  `json:"address"`
	Confirmations int64   `json:"confirmations"`
}

// ListUnspent returns all unspent transaction outputs for the given address,
// including unconfirmed ones, in the order the node reports them.
// It calls `listunspent 0 9999999 ["address"]` and converts BTC amounts to satoshis.
func (c *RPCClient) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	return c.listUnspent(ctx, address, 0)
}

func (c *RPCClient) listUnspent(ctx context.Context, address string, minConf int) ([]*UTXO, error) {
	params := []interface{}{minConf, 9999999, []string{address}}
	var results []listUnspentResult
	if err := c.Call(ctx, "listunspent", params, &results); err != nil {
		return nil, err
	}

	utxos := make([]*UTXO, len(results))
	for i, r := range results {
		amount, err := btcToSat(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("listunspent %s:%d: %w", r.TxID, r.Vout, err)
		}
		utxos[i] = &UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Amount:        amount,
			ScriptPubKey:  r.ScriptPubKey,
			Address:       r.Address,
			Confirmations: r.Confirmations,
		}
	}
	return utxos, nil
}

// GetBalance sums the confirmed unspent outputs of address, which equals
// funded minus spent for a watched address.
func (c *RPCClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	utxos, err := c.listUnspent(ctx, address, 1)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, u := range utxos {
		total += u.Amount
	}
	return total, nil
}

// BroadcastTx submits a raw transaction hex to the network and returns the txid.
// It calls `sendrawtransaction "hex"`. RPC errors are wrapped with ErrBroadcastRejected.
func (c *RPCClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	params := []interface{}{rawTxHex}
	var txid string
	if err := c.Call(ctx, "sendrawtransaction", params, &txid); err != nil {
		switch rpcCode(err) {
		case rpcVerifyError, rpcVerifyRejected, rpcVerifyAlreadyInUTXO:
			return "", fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
		}
		if errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrAuthFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
	}
	return txid, nil
}

// GetRawTx returns the raw transaction bytes for the given txid.
// It calls `getrawtransaction "txid" false` (non-verbose) to get the hex-encoded
// transaction and decodes it to bytes. Wallet-unrelated transactions need
// -txindex on the node.
func (c *RPCClient) GetRawTx(ctx context.Context, txid string) ([]byte, error) {
	params := []interface{}{txid, false}
	var rawHex string
	if err := c.Call(ctx, "getrawtransaction", params, &rawHex); err != nil {
		return nil, notFound(err, txid)
	}
	data, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tx hex: %v", ErrInvalidResponse, err)
	}
	return data, nil
}

// verboseTxResult maps the JSON fields from getrawtransaction with verbose=true.
type verboseTxResult struct {
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
	BlockTime     int64  `json:"blocktime"`
}

// blockHeaderResult maps the fields of a verbose getblockheader call.
type blockHeaderResult struct {
	Height uint64 `json:"height"`
}

// GetTxStatus returns the confirmation status of a transaction.
// It calls `getrawtransaction "txid" true` (verbose mode) to get confirmation info,
// then `getblockheader` for the block height when the transaction is mined.
func (c *RPCClient) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	params := []interface{}{txid, true}
	var result verboseTxResult
	if err := c.Call(ctx, "getrawtransaction", params, &result); err != nil {
		return nil, notFound(err, txid)
	}
	status := &TxStatus{
		Confirmed:     result.Confirmations > 0,
		BlockHash:     result.BlockHash,
		BlockTime:     result.BlockTime,
		Confirmations: result.Confirmations,
	}
	if status.Confirmed && result.BlockHash != "" {
		var header blockHeaderResult
		if err := c.Call(ctx, "getblockheader", []interface{}{result.BlockHash, true}, &header); err != nil {
			return nil, err
		}
		status.BlockHeight = header.Height
	}
	return status, nil
}

// GetBestBlockHeight returns the height of the current chain tip.
// It calls `getblockcount` which returns an integer block height.
func (c *RPCClient) GetBestBlockHeight(ctx context.Context) (uint64, error) {
	params := []interface{}{}
	var raw json.RawMessage
	if err := c.Call(ctx, "getblockcount", params, &raw); err != nil {
		return 0, err
	}
	// getblockcount returns an integer, but JSON numbers are float64.
	var height float64
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, fmt.Errorf("%w: invalid block height: %v", ErrInvalidResponse, err)
	}
	return uint64(height), nil
}

// ImportAddress adds a watch-only address to the node's wallet so that
// ListUnspent can find its outputs. rescan walks the chain for history.
func (c *RPCClient) ImportAddress(ctx context.Context, address string, rescan bool) error {
	params := []interface{}{address, "", rescan}
	return c.Call(ctx, "importaddress", params, nil)
}

// notFound maps the node's "no such transaction" error to ErrTxNotFound.
func notFound(err error, txid string) error {
	if rpcCode(err) == rpcInvalidAddressOrKey {
		return fmt.Errorf("%w: %s: %w", ErrTxNotFound, txid, err)
	}
	return err
}
