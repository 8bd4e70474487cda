// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads and saves the btctx configuration file, a flat
// "key = value" format with # comments.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	configFileName = "config"
	dataDirName    = ".btctx"
)

// Config holds the CLI settings. Empty RPC and API fields fall through to
// environment variables and network presets.
type Config struct {
	DataDir  string
	Network  string
	Backend  string
	APIURL   string
	RPCURL   string
	RPCUser  string
	RPCPass  string
	FeeRate  uint64
	LogLevel string
	LogFile  string
}

// DefaultConfig returns testnet settings using the Esplora backend at
// 1 sat/vbyte.
func DefaultConfig() Config {
	return Config{
		DataDir:  DefaultDataDir(),
		Network:  "testnet",
		Backend:  "esplora",
		FeeRate:  1,
		LogLevel: "info",
	}
}

// DefaultDataDir returns ~/.btctx, or .btctx in the working directory when
// the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dataDirName
	}
	return filepath.Join(home, dataDirName)
}

// ConfigPath returns the config file location inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(filepath.Clean(dataDir), configFileName)
}

// LoadConfig reads path on top of DefaultConfig. Unknown keys are ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d: %q", ErrInvalidConfigLine, lineNo, line)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

// parseKeyValue splits on the first '='.
func parseKeyValue(line string) (string, string, error) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", ErrInvalidConfigLine
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", "", ErrInvalidConfigLine
	}
	return key, strings.TrimSpace(value), nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "datadir":
		c.DataDir = value
	case "network":
		c.Network = value
	case "backend":
		c.Backend = value
	case "apiurl":
		c.APIURL = value
	case "rpcurl":
		c.RPCURL = value
	case "rpcuser":
		c.RPCUser = value
	case "rpcpass":
		c.RPCPass = value
	case "feerate":
		rate, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidFeeRate, value)
		}
		c.FeeRate = rate
	case "loglevel":
		c.LogLevel = value
	case "logfile":
		c.LogFile = value
	}
	return nil
}

// SaveConfig writes cfg to path, creating parent directories. The file may
// hold an RPC password, so it is written 0600.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# btctx Configuration\n\n")
	fmt.Fprintf(&b, "datadir = %s\n", cfg.DataDir)
	fmt.Fprintf(&b, "network = %s\n", cfg.Network)
	fmt.Fprintf(&b, "backend = %s\n", cfg.Backend)
	fmt.Fprintf(&b, "feerate = %d\n", cfg.FeeRate)
	fmt.Fprintf(&b, "loglevel = %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "logfile = %s\n", cfg.LogFile)
	b.WriteString("\n# Leave empty to use BTCTX_* environment variables or network presets.\n")
	fmt.Fprintf(&b, "apiurl = %s\n", cfg.APIURL)
	fmt.Fprintf(&b, "rpcurl = %s\n", cfg.RPCURL)
	fmt.Fprintf(&b, "rpcuser = %s\n", cfg.RPCUser)
	fmt.Fprintf(&b, "rpcpass = %s\n", cfg.RPCPass)

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
