package network

import (
	"fmt"
	"time"
)

// Backend names accepted by NewService.
const (
	BackendEsplora = "esplora"
	BackendRPC     = "rpc"
)

// Environment variables consulted by ResolveConfig and ResolveAPIURL.
const (
	EnvRPCURL  = "BTCTX_RPC_URL"
	EnvRPCUser = "BTCTX_RPC_USER"
	EnvRPCPass = "BTCTX_RPC_PASS"
	EnvAPIURL  = "BTCTX_API_URL"
)

// RPCConfig holds the connection parameters for a Bitcoin Core node's JSON-RPC interface.
type RPCConfig struct {
	URL      string        `json:"url"`
	User     string        `json:"user"`
	Password string        `json:"password"`
	Network  string        `json:"network"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// NetworkPresets contains default RPC configurations for known networks.
// Mainnet is intentionally omitted to require explicit configuration.
var NetworkPresets = map[string]RPCConfig{
	"testnet": {URL: "http://localhost:18332", User: "btctx", Password: "btctx"},
}

// EsploraPresets maps networks to public Esplora API roots.
var EsploraPresets = map[string]string{
	"mainnet": "https://blockstream.info/api",
	"testnet": "https://blockstream.info/testnet/api",
}

// ExplorerURLs maps networks to the matching block explorer, for linking txids.
var ExplorerURLs = map[string]string{
	"mainnet": "https://blockstream.info",
	"testnet": "https://blockstream.info/testnet",
}

// ResolveConfig merges RPC configuration from three sources with decreasing priority:
//  1. CLI flags (highest priority)
//  2. Environment variables (BTCTX_RPC_URL, BTCTX_RPC_USER, BTCTX_RPC_PASS)
//  3. Network presets (lowest priority, testnet only)
//
// For mainnet, explicit configuration is required -- there is no preset.
func ResolveConfig(flags *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}

	// Layer 1: start with preset defaults if available.
	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	// Layer 2: environment variables override preset defaults.
	if env != nil {
		if v, ok := env[EnvRPCURL]; ok && v != "" {
			result.URL = v
		}
		if v, ok := env[EnvRPCUser]; ok && v != "" {
			result.User = v
		}
		if v, ok := env[EnvRPCPass]; ok && v != "" {
			result.Password = v
		}
	}

	// Layer 3: CLI flags have highest priority.
	if flags != nil {
		if flags.URL != "" {
			result.URL = flags.URL
		}
		if flags.User != "" {
			result.User = flags.User
		}
		if flags.Password != "" {
			result.Password = flags.Password
		}
		if flags.Timeout > 0 {
			result.Timeout = flags.Timeout
		}
	}

	// Validate: URL must be set (mainnet has no preset, so this catches unconfigured mainnet).
	if result.URL == "" {
		return nil, fmt.Errorf("network: %s requires explicit RPC configuration (set --rpc-url, %s, or config file)", network, EnvRPCURL)
	}

	return &result, nil
}

// ResolveAPIURL picks the Esplora root: flag, then BTCTX_API_URL, then the
// network preset.
func ResolveAPIURL(flag string, env map[string]string, network string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := env[EnvAPIURL]; v != "" {
		return v, nil
	}
	if preset, ok := EsploraPresets[network]; ok {
		return preset, nil
	}
	return "", fmt.Errorf("network: no Esplora API known for %q (set --api-url or %s)", network, EnvAPIURL)
}

// ServiceConfig selects and configures a BlockchainService backend.
type ServiceConfig struct {
	Backend string
	Network string
	APIURL  string
	RPC     RPCConfig
	Timeout time.Duration
}

// NewService builds the backend named by cfg.Backend. An empty backend means
// Esplora. Flags in cfg take priority over env, which overrides presets.
func NewService(cfg ServiceConfig, env map[string]string) (BlockchainService, error) {
	switch cfg.Backend {
	case "", BackendEsplora:
		apiURL, err := ResolveAPIURL(cfg.APIURL, env, cfg.Network)
		if err != nil {
			return nil, err
		}
		return NewEsploraClient(apiURL, cfg.Timeout), nil
	case BackendRPC:
		flags := cfg.RPC
		if flags.Timeout == 0 {
			flags.Timeout = cfg.Timeout
		}
		rpcCfg, err := ResolveConfig(&flags, env, cfg.Network)
		if err != nil {
			return nil, err
		}
		return NewRPCClient(*rpcCfg), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}
