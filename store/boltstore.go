package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.etcd.io/bbolt"
)

var (
	bucketWallets = []byte("wallets")
	bucketRawTxs  = []byte("rawtxs")
)

// BoltStore wraps a bbolt database holding wallets and cached transactions.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func Open(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketWallets, bucketRawTxs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("store: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// Wallets returns a WalletStore backed by this database.
func (s *BoltStore) Wallets() *BoltWalletStore { return &BoltWalletStore{db: s.db} }

// RawTxs returns a RawTxStore backed by this database.
func (s *BoltStore) RawTxs() *BoltRawTxStore { return &BoltRawTxStore{db: s.db} }

// encodeGob serializes a value using gob encoding.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob deserializes gob-encoded data into a value.
func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// BoltWalletStore persists encrypted wallets in bbolt.
type BoltWalletStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ WalletStore = (*BoltWalletStore)(nil)

// PutWallet seals rec and stores it under its name.
func (s *BoltWalletStore) PutWallet(rec *WalletRecord, password string) error {
	// Seal outside the write transaction; Argon2id is slow.
	sw, err := sealWallet(rec, password)
	if err != nil {
		return err
	}
	data, err := encodeGob(sw)
	if err != nil {
		return fmt.Errorf("store: encode wallet: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketWallets)
		key := []byte(rec.Name)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateWallet, rec.Name)
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("store: put wallet: %w", err)
		}
		return nil
	})
}

// GetWallet loads and decrypts a wallet.
func (s *BoltWalletStore) GetWallet(name, password string) (*WalletRecord, error) {
	sw, err := s.load(name)
	if err != nil {
		return nil, err
	}
	return openWallet(sw, password)
}

func (s *BoltWalletStore) load(name string) (*storedWallet, error) {
	var sw storedWallet
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketWallets).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, name)
		}
		if err := decodeGob(data, &sw); err != nil {
			return fmt.Errorf("%w: wallet %s: %w", ErrCorruptRecord, name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sw, nil
}

// ListWallets returns every wallet's metadata in key order.
func (s *BoltWalletStore) ListWallets() ([]WalletSummary, error) {
	var result []WalletSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWallets).ForEach(func(k, v []byte) error {
			var sw storedWallet
			if err := decodeGob(v, &sw); err != nil {
				return fmt.Errorf("%w: wallet %s: %w", ErrCorruptRecord, k, err)
			}
			result = append(result, sw.Summary)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteWallet removes a wallet.
func (s *BoltWalletStore) DeleteWallet(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketWallets)
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, name)
		}
		return b.Delete([]byte(name))
	})
}

// BoltRawTxStore caches raw transactions in bbolt.
type BoltRawTxStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ RawTxStore = (*BoltRawTxStore)(nil)

// PutRawTx stores raw under txid, replacing any previous value.
func (s *BoltRawTxStore) PutRawTx(txid string, raw []byte) error {
	if err := validateTxID(txid); err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: raw transaction", ErrNilParam)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRawTxs).Put([]byte(strings.ToLower(txid)), raw); err != nil {
			return fmt.Errorf("store: put raw tx: %w", err)
		}
		return nil
	})
}

// GetRawTx returns the bytes stored under txid.
func (s *BoltRawTxStore) GetRawTx(txid string) ([]byte, error) {
	if err := validateTxID(txid); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRawTxs).Get([]byte(strings.ToLower(txid)))
		if v == nil {
			return ErrTxNotFound
		}
		// bbolt values are only valid inside the transaction.
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}
