// Package store persists wallet records and a cache of raw parent
// transactions. Wallet secrets (mnemonic and private key) are sealed with
// wallet.EncryptSecret; the remaining metadata stays readable so wallets can
// be listed without a password.
package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bitfsorg/libbtctx-go/wallet"
)

// MaxNameLen bounds wallet names.
const MaxNameLen = 64

// WalletRecord is the full persisted wallet, secrets included.
type WalletRecord struct {
	Name          string    `json:"name"`
	Network       string    `json:"network"`
	Mnemonic      string    `json:"mnemonic,omitempty"`
	Address       string    `json:"address"`
	PublicKeyHex  string    `json:"public_key"`
	PrivateKeyHex string    `json:"private_key"`
	CreatedAt     time.Time `json:"created_at"`
}

// WalletSummary is the non-secret part of a WalletRecord.
type WalletSummary struct {
	Name         string    `json:"name"`
	Network      string    `json:"network"`
	Address      string    `json:"address"`
	PublicKeyHex string    `json:"public_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// WalletStore persists encrypted wallet records by name.
type WalletStore interface {
	// PutWallet seals rec's secrets under password and stores it.
	PutWallet(rec *WalletRecord, password string) error

	// GetWallet loads and decrypts a wallet.
	GetWallet(name, password string) (*WalletRecord, error)

	// ListWallets returns every wallet's metadata, sorted by name.
	ListWallets() ([]WalletSummary, error)

	// DeleteWallet removes a wallet.
	DeleteWallet(name string) error
}

// RawTxStore caches serialized transactions by display-order txid.
type RawTxStore interface {
	PutRawTx(txid string, raw []byte) error
	GetRawTx(txid string) ([]byte, error)
}

// storedWallet is the at-rest form of a WalletRecord.
type storedWallet struct {
	Summary WalletSummary
	Sealed  []byte
}

// walletSecrets is the plaintext sealed inside storedWallet.
type walletSecrets struct {
	Mnemonic      string `json:"mnemonic,omitempty"`
	PrivateKeyHex string `json:"private_key"`
}

// NewWalletRecord captures km under name. mnemonic may be empty for imported keys.
func NewWalletRecord(name string, km *wallet.KeyMaterial, mnemonic string) *WalletRecord {
	return &WalletRecord{
		Name:          name,
		Network:       km.Network.String(),
		Mnemonic:      mnemonic,
		Address:       km.Address,
		PublicKeyHex:  km.PublicKeyHex(),
		PrivateKeyHex: km.PrivateKeyHex(),
		CreatedAt:     time.Now().UTC(),
	}
}

// Summary returns the non-secret fields.
func (r *WalletRecord) Summary() WalletSummary {
	return WalletSummary{
		Name:         r.Name,
		Network:      r.Network,
		Address:      r.Address,
		PublicKeyHex: r.PublicKeyHex,
		CreatedAt:    r.CreatedAt,
	}
}

// KeyMaterial rebuilds the signing key from the stored private key.
func (r *WalletRecord) KeyMaterial() (*wallet.KeyMaterial, error) {
	net, err := wallet.ParseNetwork(r.Network)
	if err != nil {
		return nil, err
	}
	km, err := wallet.ImportPrivateKey(r.PrivateKeyHex, net)
	if err != nil {
		return nil, err
	}
	if km.Address != r.Address {
		return nil, fmt.Errorf("%w: private key derives %s, record says %s", ErrCorruptRecord, km.Address, r.Address)
	}
	return km, nil
}

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLen || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validateTxID(txid string) error {
	b, err := hex.DecodeString(txid)
	if err != nil || len(b) != 32 {
		return fmt.Errorf("%w: %q", ErrInvalidTxID, txid)
	}
	return nil
}

func sealWallet(rec *WalletRecord, password string) (*storedWallet, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: wallet record", ErrNilParam)
	}
	if err := validateName(rec.Name); err != nil {
		return nil, err
	}
	plain, err := json.Marshal(walletSecrets{Mnemonic: rec.Mnemonic, PrivateKeyHex: rec.PrivateKeyHex})
	if err != nil {
		return nil, fmt.Errorf("store: encode secrets: %w", err)
	}
	sealed, err := wallet.EncryptSecret(plain, password)
	if err != nil {
		return nil, err
	}
	return &storedWallet{Summary: rec.Summary(), Sealed: sealed}, nil
}

func openWallet(sw *storedWallet, password string) (*WalletRecord, error) {
	plain, err := wallet.DecryptSecret(sw.Sealed, password)
	if err != nil {
		return nil, err
	}
	var secrets walletSecrets
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return nil, fmt.Errorf("%w: secrets: %w", ErrCorruptRecord, err)
	}
	s := sw.Summary
	return &WalletRecord{
		Name:          s.Name,
		Network:       s.Network,
		Mnemonic:      secrets.Mnemonic,
		Address:       s.Address,
		PublicKeyHex:  s.PublicKeyHex,
		PrivateKeyHex: secrets.PrivateKeyHex,
		CreatedAt:     s.CreatedAt,
	}, nil
}

func sortSummaries(list []WalletSummary) {
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
}

// MemWalletStore is an in-memory implementation of WalletStore for testing.
type MemWalletStore struct {
	mu      sync.RWMutex
	wallets map[string]*storedWallet
}

// Compile-time interface check.
var _ WalletStore = (*MemWalletStore)(nil)

// NewMemWalletStore creates a new in-memory wallet store.
func NewMemWalletStore() *MemWalletStore {
	return &MemWalletStore{wallets: make(map[string]*storedWallet)}
}

// PutWallet stores rec, failing if the name is taken.
func (s *MemWalletStore) PutWallet(rec *WalletRecord, password string) error {
	sw, err := sealWallet(rec, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wallets[rec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWallet, rec.Name)
	}
	s.wallets[rec.Name] = sw
	return nil
}

// GetWallet loads and decrypts a wallet.
func (s *MemWalletStore) GetWallet(name, password string) (*WalletRecord, error) {
	s.mu.RLock()
	sw, ok := s.wallets[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, name)
	}
	return openWallet(sw, password)
}

// ListWallets returns every wallet's metadata, sorted by name.
func (s *MemWalletStore) ListWallets() ([]WalletSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]WalletSummary, 0, len(s.wallets))
	for _, sw := range s.wallets {
		result = append(result, sw.Summary)
	}
	sortSummaries(result)
	return result, nil
}

// DeleteWallet removes a wallet.
func (s *MemWalletStore) DeleteWallet(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[name]; !ok {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, name)
	}
	delete(s.wallets, name)
	return nil
}

// MemRawTxStore is an in-memory implementation of RawTxStore.
type MemRawTxStore struct {
	mu  sync.RWMutex
	txs map[string][]byte
}

// Compile-time interface check.
var _ RawTxStore = (*MemRawTxStore)(nil)

// NewMemRawTxStore creates a new in-memory raw transaction store.
func NewMemRawTxStore() *MemRawTxStore {
	return &MemRawTxStore{txs: make(map[string][]byte)}
}

// PutRawTx stores raw under txid, replacing any previous value.
func (s *MemRawTxStore) PutRawTx(txid string, raw []byte) error {
	if err := validateTxID(txid); err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: raw transaction", ErrNilParam)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[strings.ToLower(txid)] = append([]byte(nil), raw...)
	return nil
}

// GetRawTx returns a copy of the bytes stored under txid.
func (s *MemRawTxStore) GetRawTx(txid string) ([]byte, error) {
	if err := validateTxID(txid); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.txs[strings.ToLower(txid)]
	if !ok {
		return nil, ErrTxNotFound
	}
	return append([]byte(nil), raw...), nil
}
