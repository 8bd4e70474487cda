package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
)

const (
	// BIP44 path constants.
	PurposeBIP44        = 44
	DefaultAccount      = 0
	ExternalChain       = 0
	DefaultAddressIndex = 0

	// BIP32 hardened offset.
	Hardened = 0x80000000

	// Seed length bounds in bytes (128..512 bits).
	MinSeedLen = 16
	MaxSeedLen = 64

	// PrivateKeyLen is the size of a serialized private scalar.
	PrivateKeyLen = 32
)

// PathElement is one level of a BIP32 derivation path.
type PathElement struct {
	Index    uint32 `json:"index"`
	Hardened bool   `json:"hardened"`
}

// childIndex returns the index as passed to BIP32 child derivation.
func (e PathElement) childIndex() uint32 {
	if e.Hardened {
		return e.Index + Hardened
	}
	return e.Index
}

// DerivationPath is an ordered sequence of path elements below the master key.
type DerivationPath []PathElement

// String renders the path in the usual m/44'/1'/0'/0/0 notation.
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, e := range p {
		fmt.Fprintf(&b, "/%d", e.Index)
		if e.Hardened {
			b.WriteByte('\'')
		}
	}
	return b.String()
}

// DefaultPath returns m/44'/coin'/0'/0/0 for the network.
func DefaultPath(net Network) DerivationPath {
	var coin uint32
	if p := net.Params(); p != nil {
		coin = p.CoinType
	}
	return DerivationPath{
		{Index: PurposeBIP44, Hardened: true},
		{Index: coin, Hardened: true},
		{Index: DefaultAccount, Hardened: true},
		{Index: ExternalChain},
		{Index: DefaultAddressIndex},
	}
}

// KeyMaterial is a single-key, single-address P2WPKH wallet. It is never
// mutated after construction.
type KeyMaterial struct {
	Seed       []byte         `json:"-"`
	Path       DerivationPath `json:"path,omitempty"`
	PrivateKey *ec.PrivateKey `json:"-"`
	PublicKey  *ec.PublicKey  `json:"-"`
	Address    string         `json:"address"`
	Network    Network        `json:"network"`
}

// DeriveWallet derives the wallet key at the default path from a BIP39 seed.
func DeriveWallet(seed []byte, net Network) (*KeyMaterial, error) {
	if len(seed) < MinSeedLen || len(seed) > MaxSeedLen {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSeed, len(seed))
	}
	if !net.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNetwork, net)
	}

	masterKey, err := bip32.NewMaster(seed, net.sdkParams())
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %w", ErrDerivationFailed, err)
	}

	path := DefaultPath(net)
	current := masterKey
	for depth, elem := range path {
		current, err = current.Child(elem.childIndex())
		if err != nil {
			return nil, fmt.Errorf("%w: %s at depth %d: %w", ErrDerivationFailed, path, depth, err)
		}
	}

	privKey, err := current.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to extract EC private key: %w", ErrDerivationFailed, err)
	}

	seedCopy := make([]byte, len(seed))
	copy(seedCopy, seed)

	km, err := newKeyMaterial(privKey, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	km.Seed = seedCopy
	km.Path = path
	return km, nil
}

// DeriveWalletFromMnemonic validates the mnemonic checksum, stretches it into
// a seed and derives the wallet key.
func DeriveWalletFromMnemonic(mnemonic, passphrase string, net Network) (*KeyMaterial, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return DeriveWallet(seed, net)
}

// ImportPrivateKey builds KeyMaterial from a hex-encoded 32-byte private key,
// as persisted by the wallet-management layer. The result has no seed or path.
func ImportPrivateKey(privHex string, net Network) (*KeyMaterial, error) {
	if !net.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNetwork, net)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(privHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	if len(raw) != PrivateKeyLen {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPrivateKey, PrivateKeyLen, len(raw))
	}
	if err := checkScalar(raw); err != nil {
		return nil, err
	}
	privKey, _ := ec.PrivateKeyFromBytes(raw)
	return newKeyMaterial(privKey, net)
}

// newKeyMaterial range-checks the private key and derives the address.
func newKeyMaterial(privKey *ec.PrivateKey, net Network) (*KeyMaterial, error) {
	if privKey == nil {
		return nil, ErrInvalidPrivateKey
	}
	if err := checkScalar(privKey.Serialize()); err != nil {
		return nil, err
	}
	pubKey := privKey.PubKey()
	if pubKey == nil {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}
	address, err := P2WPKHAddress(pubKey, net)
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{
		PrivateKey: privKey,
		PublicKey:  pubKey,
		Address:    address,
		Network:    net,
	}, nil
}

// checkScalar verifies the scalar lies in 1..n-1.
func checkScalar(b []byte) error {
	if len(b) != PrivateKeyLen {
		return fmt.Errorf("%w: scalar is %d bytes", ErrKeyOutOfRange, len(b))
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
		return ErrKeyOutOfRange
	}
	return nil
}

// P2WPKHAddress encodes the bech32 witness v0 address for a compressed key.
func P2WPKHAddress(pubKey *ec.PublicKey, net Network) (string, error) {
	addr, err := witnessAddress(pubKey, net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func witnessAddress(pubKey *ec.PublicKey, net Network) (*btcutil.AddressWitnessPubKeyHash, error) {
	if pubKey == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrInvalidPrivateKey)
	}
	params := net.ChainParams()
	if params == nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNetwork, net)
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(bsvhash.Hash160(pubKey.Compressed()), params)
	if err != nil {
		return nil, fmt.Errorf("wallet: witness address: %w", err)
	}
	return addr, nil
}

// PrivateKeyHex returns the 32-byte private scalar as hex.
func (k *KeyMaterial) PrivateKeyHex() string {
	return hex.EncodeToString(k.PrivateKey.Serialize())
}

// PublicKeyHex returns the 33-byte compressed public key as hex.
func (k *KeyMaterial) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey.Compressed())
}

// PubKeyHash returns HASH160 of the compressed public key.
func (k *KeyMaterial) PubKeyHash() []byte {
	return bsvhash.Hash160(k.PublicKey.Compressed())
}

// WitnessScript returns the P2WPKH locking script (OP_0 <20-byte hash>) that
// every output spendable by this key carries.
func (k *KeyMaterial) WitnessScript() ([]byte, error) {
	addr, err := witnessAddress(k.PublicKey, k.Network)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// WIF encodes the private key in wallet import format for the key's network.
func (k *KeyMaterial) WIF() (string, error) {
	params := k.Network.ChainParams()
	if params == nil {
		return "", fmt.Errorf("%w: %d", ErrInvalidNetwork, k.Network)
	}
	priv, _ := btcec.PrivKeyFromBytes(k.PrivateKey.Serialize())
	wif, err := btcutil.NewWIF(priv, params, true)
	if err != nil {
		return "", fmt.Errorf("wallet: encode WIF: %w", err)
	}
	return wif.String(), nil
}
