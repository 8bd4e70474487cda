package network

import "errors"

var (
	// ErrConnectionFailed indicates the client could not reach the backend.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrAuthFailed indicates authentication (e.g., RPC credentials) was rejected.
	ErrAuthFailed = errors.New("network: authentication failed")

	// ErrTxNotFound indicates the requested transaction does not exist.
	ErrTxNotFound = errors.New("network: transaction not found")

	// ErrBroadcastRejected indicates the backend rejected the broadcast transaction.
	ErrBroadcastRejected = errors.New("network: broadcast rejected")

	// ErrInvalidResponse indicates the backend returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrCacheCorrupt indicates cached transaction bytes no longer hash to their id.
	ErrCacheCorrupt = errors.New("network: cached transaction does not match txid")

	// ErrUnknownBackend indicates an unsupported backend name in configuration.
	ErrUnknownBackend = errors.New("network: unknown backend")
)
