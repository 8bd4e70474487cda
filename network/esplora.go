package network

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Compile-time interface check.
var _ BlockchainService = (*EsploraClient)(nil)

// EsploraClient talks to an Esplora REST API such as blockstream.info.
type EsploraClient struct {
	baseURL string
	client  *http.Client
}

// NewEsploraClient creates a client for the API rooted at baseURL, e.g.
// "https://blockstream.info/testnet/api". A zero timeout means DefaultTimeout.
func NewEsploraClient(baseURL string, timeout time.Duration) *EsploraClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EsploraClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// esploraStatus is the status object embedded in UTXO and tx responses.
type esploraStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

type esploraUTXO struct {
	TxID   string        `json:"txid"`
	Vout   uint32        `json:"vout"`
	Value  uint64        `json:"value"`
	Status esploraStatus `json:"status"`
}

type esploraAddress struct {
	ChainStats struct {
		FundedTxoSum uint64 `json:"funded_txo_sum"`
		SpentTxoSum  uint64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
}

// ListUnspent calls GET /address/{address}/utxo. Confirmation depth is
// derived from the chain tip, which is fetched only when some output is mined.
func (c *EsploraClient) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	var results []esploraUTXO
	if err := c.getJSON(ctx, "/address/"+url.PathEscape(address)+"/utxo", &results); err != nil {
		return nil, err
	}

	var tip uint64
	for _, r := range results {
		if r.Status.Confirmed {
			var err error
			if tip, err = c.GetBestBlockHeight(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	utxos := make([]*UTXO, len(results))
	for i, r := range results {
		utxos[i] = &UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Amount:        r.Value,
			Address:       address,
			Confirmations: confirmations(r.Status, tip),
		}
	}
	return utxos, nil
}

// GetRawTx calls GET /tx/{txid}/hex.
func (c *EsploraClient) GetRawTx(ctx context.Context, txid string) ([]byte, error) {
	body, err := c.get(ctx, "/tx/"+url.PathEscape(txid)+"/hex")
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tx hex: %v", ErrInvalidResponse, err)
	}
	return data, nil
}

// BroadcastTx calls POST /tx with the hex as a text/plain body and returns
// the txid echoed by the server.
func (c *EsploraClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", fmt.Errorf("network: create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrBroadcastRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

// GetBalance calls GET /address/{address} and returns confirmed funded minus
// spent value.
func (c *EsploraClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	var info esploraAddress
	if err := c.getJSON(ctx, "/address/"+url.PathEscape(address), &info); err != nil {
		return 0, err
	}
	stats := info.ChainStats
	if stats.SpentTxoSum > stats.FundedTxoSum {
		return 0, fmt.Errorf("%w: spent %d exceeds funded %d", ErrInvalidResponse, stats.SpentTxoSum, stats.FundedTxoSum)
	}
	return stats.FundedTxoSum - stats.SpentTxoSum, nil
}

// GetTxStatus calls GET /tx/{txid}/status.
func (c *EsploraClient) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	var s esploraStatus
	if err := c.getJSON(ctx, "/tx/"+url.PathEscape(txid)+"/status", &s); err != nil {
		return nil, err
	}
	status := &TxStatus{
		Confirmed:   s.Confirmed,
		BlockHash:   s.BlockHash,
		BlockHeight: s.BlockHeight,
		BlockTime:   s.BlockTime,
	}
	if s.Confirmed {
		tip, err := c.GetBestBlockHeight(ctx)
		if err != nil {
			return nil, err
		}
		status.Confirmations = confirmations(s, tip)
	}
	return status, nil
}

// GetBestBlockHeight calls GET /blocks/tip/height.
func (c *EsploraClient) GetBestBlockHeight(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid block height: %v", ErrInvalidResponse, err)
	}
	return height, nil
}

func (c *EsploraClient) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrInvalidResponse, path, err)
	}
	return nil
}

// get performs a GET and maps HTTP failures onto the package sentinels.
func (c *EsploraClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("network: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrConnectionFailed, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, path)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: HTTP 400: %s", ErrInvalidResponse, strings.TrimSpace(string(body)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// confirmations is tip - height + 1 for a mined status, else 0.
func confirmations(s esploraStatus, tip uint64) int64 {
	if !s.Confirmed || s.BlockHeight == 0 || tip < s.BlockHeight {
		return 0
	}
	return int64(tip-s.BlockHeight) + 1
}
