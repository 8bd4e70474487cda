// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\" or \"testnet\")")

	// ErrInvalidBackend indicates the backend name is not recognized.
	ErrInvalidBackend = errors.New("config: invalid backend (must be \"esplora\" or \"rpc\")")

	// ErrInvalidURL indicates an API or RPC URL is malformed.
	ErrInvalidURL = errors.New("config: invalid URL")

	// ErrInvalidFeeRate indicates the fee rate is not a non-negative integer.
	ErrInvalidFeeRate = errors.New("config: invalid fee rate (sat/vbyte)")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")
)
