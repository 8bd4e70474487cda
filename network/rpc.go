package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	// DefaultTimeout bounds every HTTP round trip to a backend.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 8 << 20
)

// RPCClient is a JSON-RPC 1.0 client for a Bitcoin Core node. The node's
// wallet must watch the queried addresses for listunspent to see them.
// All high-level blockchain methods are built on top of the Call method.
type RPCClient struct {
	url    string
	user   string
	pass   string
	client *http.Client
	nextID atomic.Int64
}

// rpcRequest represents a JSON-RPC 1.0 request payload.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 1.0 response payload.
type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcError represents an error returned by the JSON-RPC server.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Bitcoin Core RPC error codes the client maps to sentinels.
const (
	rpcInvalidAddressOrKey = -5  // no such transaction
	rpcVerifyError         = -25 // missing inputs, generic verify failure
	rpcVerifyRejected      = -26 // rejected by policy or consensus
	rpcVerifyAlreadyInUTXO = -27
)

func (e *rpcError) Error() string {
	return fmt.Sprintf("network: rpc error %d: %s", e.Code, e.Message)
}

// rpcCode extracts the RPC error code from err, or 0.
func rpcCode(err error) int {
	var re *rpcError
	if errors.As(err, &re) {
		return re.Code
	}
	return 0
}

// NewRPCClient creates a new JSON-RPC client with the given configuration.
// The client uses HTTP Basic Auth when User is non-empty. A zero Timeout
// means DefaultTimeout.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RPCClient{
		url:  cfg.URL,
		user: cfg.User,
		pass: cfg.Password,
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

// Call invokes a JSON-RPC method on the node. It serializes the request,
// sends it with optional Basic Auth, and deserializes the response into result.
//
// If params is nil, an empty params array is sent. If result is nil, the
// response result is discarded (useful for fire-and-forget calls like sendrawtransaction).
//
// Call returns ErrConnectionFailed if the HTTP request fails, and ErrInvalidResponse
// if the response cannot be decoded. RPC-level errors (e.g., -5 "No such mempool
// transaction") are returned as plain errors with the server's error message.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody := rpcRequest{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("network: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("network: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: HTTP %d", ErrAuthFailed, resp.StatusCode)
	}

	// Bitcoin Core answers RPC-level errors with HTTP 500 and a JSON body.
	if resp.StatusCode == http.StatusInternalServerError || resp.StatusCode == http.StatusNotFound {
		var rpcResp rpcResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&rpcResp); err == nil && rpcResp.Error != nil {
			return rpcResp.Error
		}
		return fmt.Errorf("%w: HTTP %d", ErrConnectionFailed, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrInvalidResponse, err)
	}

	if rpcResp.ID != reqBody.ID {
		return fmt.Errorf("%w: response ID mismatch: expected %d, got %d",
			ErrInvalidResponse, reqBody.ID, rpcResp.ID)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: unmarshal result: %w", ErrInvalidResponse, err)
		}
	}

	return nil
}
