package wallet

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	sdkcfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
)

// Network selects one of the supported Bitcoin networks. The set is closed:
// values other than MainNet and TestNet are invalid.
type Network int

const (
	MainNet Network = iota
	TestNet
)

// MessagePrefix is the signed-message magic shared by both networks.
const MessagePrefix = "\x18Bitcoin Signed Message:\n"

// NetworkParams holds the byte constants of one network variant.
type NetworkParams struct {
	Network          Network `json:"-"`
	Name             string  `json:"name"`
	PubKeyHashAddrID byte    `json:"pubkeyhash"`
	ScriptHashAddrID byte    `json:"scripthash"`
	PrivateKeyID     byte    `json:"wif"`
	HDPublicKeyID    [4]byte `json:"bip32_public"`
	HDPrivateKeyID   [4]byte `json:"bip32_private"`
	Bech32HRP        string  `json:"bech32"`
	MessagePrefix    string  `json:"message_prefix"`
	CoinType         uint32  `json:"coin_type"`
}

var (
	mainNetParams = NetworkParams{
		Network:          MainNet,
		Name:             "mainnet",
		PubKeyHashAddrID: 0x00,
		ScriptHashAddrID: 0x05,
		PrivateKeyID:     0x80,
		HDPublicKeyID:    [4]byte{0x04, 0x88, 0xb2, 0x1e}, // xpub
		HDPrivateKeyID:   [4]byte{0x04, 0x88, 0xad, 0xe4}, // xprv
		Bech32HRP:        "bc",
		MessagePrefix:    MessagePrefix,
		CoinType:         0,
	}

	testNetParams = NetworkParams{
		Network:          TestNet,
		Name:             "testnet",
		PubKeyHashAddrID: 0x6f,
		ScriptHashAddrID: 0xc4,
		PrivateKeyID:     0xef,
		HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf}, // tpub
		HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94}, // tprv
		Bech32HRP:        "tb",
		MessagePrefix:    MessagePrefix,
		CoinType:         1,
	}
)

// Valid reports whether n is one of the defined networks.
func (n Network) Valid() bool {
	return n == MainNet || n == TestNet
}

// String returns the network name, or "unknown".
func (n Network) String() string {
	if p := n.Params(); p != nil {
		return p.Name
	}
	return "unknown"
}

// Params returns a copy of the constants for n, or nil for an unknown network.
func (n Network) Params() *NetworkParams {
	var p NetworkParams
	switch n {
	case MainNet:
		p = mainNetParams
	case TestNet:
		p = testNetParams
	default:
		return nil
	}
	return &p
}

// ChainParams returns the btcd chain parameters used for address and script
// encoding, or nil for an unknown network.
func (n Network) ChainParams() *chaincfg.Params {
	switch n {
	case MainNet:
		return &chaincfg.MainNetParams
	case TestNet:
		return &chaincfg.TestNet3Params
	default:
		return nil
	}
}

// sdkParams maps n to the go-sdk params consumed by BIP32 master key creation.
func (n Network) sdkParams() *sdkcfg.Params {
	if n == MainNet {
		return &sdkcfg.MainNet
	}
	return &sdkcfg.TestNet
}

// ParseNetwork returns the network with the given name.
func ParseNetwork(name string) (Network, error) {
	switch name {
	case "mainnet":
		return MainNet, nil
	case "testnet":
		return TestNet, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidNetwork, name)
}

// Validate checks that every constant in p belongs to the same network variant,
// and that the variant agrees with the btcd chain parameters.
func (p *NetworkParams) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil params", ErrInvalidNetwork)
	}
	want := p.Network.Params()
	if want == nil {
		return fmt.Errorf("%w: unknown network %d", ErrInvalidNetwork, p.Network)
	}
	if *p != *want {
		return fmt.Errorf("%w: params for %q mix constants from another network", ErrInvalidNetwork, p.Name)
	}

	cp := p.Network.ChainParams()
	if cp.PubKeyHashAddrID != p.PubKeyHashAddrID ||
		cp.ScriptHashAddrID != p.ScriptHashAddrID ||
		cp.PrivateKeyID != p.PrivateKeyID ||
		cp.HDPublicKeyID != p.HDPublicKeyID ||
		cp.HDPrivateKeyID != p.HDPrivateKeyID ||
		cp.Bech32HRPSegwit != p.Bech32HRP ||
		cp.HDCoinType != p.CoinType {
		return fmt.Errorf("%w: %q disagrees with chain parameters %q", ErrInvalidNetwork, p.Name, cp.Name)
	}
	return nil
}

// LoadNetworkParams reads a NetworkParams JSON file and resolves it to one of
// the known variants. Files whose constants do not exactly match a variant are
// rejected rather than treated as a custom network.
func LoadNetworkParams(path string) (*NetworkParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: failed to read network params: %w", err)
	}

	var params NetworkParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("wallet: failed to parse network params: %w", err)
	}

	net, err := ParseNetwork(params.Name)
	if err != nil {
		return nil, err
	}
	params.Network = net
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &params, nil
}
