package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/bitfsorg/libbtctx-go/store"
)

// Compile-time interface check.
var _ ParentTxFetcher = (*CachingTxFetcher)(nil)

// CachingTxFetcher serves raw transactions from a local store, falling back
// to a remote fetcher and caching what it returns. Parent transactions are
// immutable, so a cached entry never goes stale; it can only be corrupt.
type CachingTxFetcher struct {
	fetcher ParentTxFetcher
	cache   store.RawTxStore
	log     zerolog.Logger
}

// NewCachingTxFetcher wraps fetcher with cache.
func NewCachingTxFetcher(fetcher ParentTxFetcher, cache store.RawTxStore, log zerolog.Logger) *CachingTxFetcher {
	return &CachingTxFetcher{fetcher: fetcher, cache: cache, log: log}
}

// GetRawTx returns the transaction with the given txid. Cached bytes that no
// longer hash to txid are discarded and fetched again.
func (c *CachingTxFetcher) GetRawTx(ctx context.Context, txid string) ([]byte, error) {
	raw, err := c.cache.GetRawTx(txid)
	switch {
	case err == nil:
		verr := verifyTxID(raw, txid)
		if verr == nil {
			return raw, nil
		}
		c.log.Warn().Str("txid", txid).Err(verr).Msg("discarding corrupt cached transaction")
	case !errors.Is(err, store.ErrTxNotFound):
		return nil, fmt.Errorf("network: read tx cache: %w", err)
	}

	raw, err = c.fetcher.GetRawTx(ctx, txid)
	if err != nil {
		return nil, err
	}
	if err := verifyTxID(raw, txid); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if err := c.cache.PutRawTx(txid, raw); err != nil {
		// The fetch succeeded; a cache write failure only costs a refetch later.
		c.log.Warn().Str("txid", txid).Err(err).Msg("caching transaction failed")
	}
	return raw, nil
}

// verifyTxID checks that raw deserializes completely and hashes to txid.
func verifyTxID(raw []byte, txid string) error {
	var msgTx wire.MsgTx
	r := bytes.NewReader(raw)
	if err := msgTx.Deserialize(r); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCacheCorrupt, txid, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %s: %d trailing bytes", ErrCacheCorrupt, txid, r.Len())
	}
	if got := msgTx.TxHash().String(); !strings.EqualFold(got, txid) {
		return fmt.Errorf("%w: %s hashes to %s", ErrCacheCorrupt, txid, got)
	}
	return nil
}
