// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bitfsorg/libbtctx-go/tx"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// maxFeeRate is the same bound payment requests are held to.
const maxFeeRate = tx.MaxFeeRate

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if cfg.Network != "mainnet" && cfg.Network != "testnet" {
		return ErrInvalidNetwork
	}

	if cfg.Backend != "esplora" && cfg.Backend != "rpc" {
		return ErrInvalidBackend
	}

	for _, u := range []string{cfg.APIURL, cfg.RPCURL} {
		if err := validateURL(u); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
	}

	if cfg.FeeRate > maxFeeRate {
		return fmt.Errorf("%w: %d exceeds %d", ErrInvalidFeeRate, cfg.FeeRate, maxFeeRate)
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	return nil
}

// validateURL accepts an empty string or an absolute http(s) URL.
func validateURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}
