// btctx is a command-line wallet for single-key P2WPKH payments.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/bitfsorg/libbtctx-go/config"
	"github.com/bitfsorg/libbtctx-go/logging"
	"github.com/bitfsorg/libbtctx-go/network"
	"github.com/bitfsorg/libbtctx-go/payment"
	"github.com/bitfsorg/libbtctx-go/store"
	"github.com/bitfsorg/libbtctx-go/tx"
	"github.com/bitfsorg/libbtctx-go/validate"
	"github.com/bitfsorg/libbtctx-go/wallet"
)

// envPassword supplies the wallet password when stdin is not a terminal.
const envPassword = "BTCTX_PASSWORD"

// globals holds settings shared by every subcommand.
type globals struct {
	cfg     config.Config
	net     wallet.Network
	jsonOut bool
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	dataDir := config.DefaultDataDir()
	var flagNetwork, flagBackend, flagAPI, flagRPCURL, flagRPCUser, flagRPCPass, flagLogLevel string
	jsonOut := false

	// Global flags come before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		name, value, consumed, ok := globalFlag(args)
		if !ok {
			break
		}
		switch name {
		case "datadir":
			dataDir = value
		case "network":
			flagNetwork = value
		case "backend":
			flagBackend = value
		case "api-url":
			flagAPI = value
		case "rpc-url":
			flagRPCURL = value
		case "rpc-user":
			flagRPCUser = value
		case "rpc-pass":
			flagRPCPass = value
		case "loglevel":
			flagLogLevel = value
		case "json":
			jsonOut = true
		}
		args = args[consumed:]
	}
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(config.ConfigPath(dataDir))
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		fatal("%v", err)
	}
	cfg.DataDir = dataDir
	override(&cfg.Network, flagNetwork)
	override(&cfg.Backend, flagBackend)
	override(&cfg.APIURL, flagAPI)
	override(&cfg.RPCURL, flagRPCURL)
	override(&cfg.RPCUser, flagRPCUser)
	override(&cfg.RPCPass, flagRPCPass)
	override(&cfg.LogLevel, flagLogLevel)
	if err := config.ValidateConfig(cfg); err != nil {
		fatal("%v", err)
	}

	closer, err := logging.Init(cfg.LogLevel, false, cfg.LogFile)
	if err != nil {
		fatal("open log file: %v", err)
	}
	defer func() { _ = closer.Close() }()

	net, err := wallet.ParseNetwork(cfg.Network)
	if err != nil {
		fatal("%v", err)
	}
	g := &globals{cfg: cfg, net: net, jsonOut: jsonOut}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "init":
		cmdInit(g)
	case "create":
		cmdCreate(g, cmdArgs)
	case "restore":
		cmdRestore(g, cmdArgs)
	case "list":
		cmdList(g)
	case "address":
		cmdAddress(g, cmdArgs)
	case "balance":
		cmdBalance(ctx, g, cmdArgs)
	case "send":
		cmdSend(ctx, g, cmdArgs)
	case "status":
		cmdStatus(ctx, g, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: btctx [global flags] <command> [flags]

Global flags:
  --datadir <path>    Data directory (default: ~/.btctx)
  --network <net>     testnet (default) or mainnet
  --backend <name>    esplora (default) or rpc
  --api-url <url>     Esplora API root (env %s)
  --rpc-url <url>     Bitcoin Core RPC URL (env %s)
  --rpc-user <user>   RPC user (env %s)
  --rpc-pass <pass>   RPC password (env %s)
  --loglevel <lvl>    debug, info, warn or error
  --json              Print machine-readable output

Commands:
  init                          Write a default config file
  create  --name <n> [--words 12|24]
  restore --name <n> [--privkey]  Read a mnemonic (or hex key) from stdin
  list                          List stored wallets
  address --name <n>
  balance --name <n> | --address <addr>
  send    --name <n> --to <addr> (--amount <btc> | --sats <n>)
          [--feerate <sat/vB>] [--change <addr>] [--dry-run]
  status  --txid <txid>

The wallet password is read from the terminal, or from %s when stdin
is not a terminal.
`, network.EnvAPIURL, network.EnvRPCURL, network.EnvRPCUser, network.EnvRPCPass, envPassword)
}

// globalFlag recognizes "--name value", "--name=value" and the bare "--json".
func globalFlag(args []string) (name, value string, consumed int, ok bool) {
	arg := args[0]
	if !strings.HasPrefix(arg, "--") {
		return "", "", 0, false
	}
	name = strings.TrimPrefix(arg, "--")
	if name == "json" {
		return name, "", 1, true
	}
	if n, v, found := strings.Cut(name, "="); found {
		name, value = n, v
		consumed = 1
	} else if len(args) > 1 {
		value = args[1]
		consumed = 2
	} else {
		return "", "", 0, false
	}
	switch name {
	case "datadir", "network", "backend", "api-url", "rpc-url", "rpc-user", "rpc-pass", "loglevel":
		return name, value, consumed, true
	}
	return "", "", 0, false
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ── Commands ────────────────────────────────────────────────────────────

func cmdInit(g *globals) {
	path := config.ConfigPath(g.cfg.DataDir)
	if _, err := os.Stat(path); err == nil {
		fatal("%s already exists", path)
	}
	if err := config.SaveConfig(path, g.cfg); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func cmdCreate(g *globals, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "default", "Wallet name")
	words := fs.Int("words", 12, "Mnemonic length: 12 or 24")
	_ = fs.Parse(args)

	bits := wallet.Mnemonic12Words
	switch *words {
	case 12:
	case 24:
		bits = wallet.Mnemonic24Words
	default:
		fatal("--words must be 12 or 24")
	}
	mnemonic, err := wallet.GenerateMnemonic(bits)
	if err != nil {
		fatal("%v", err)
	}
	km, err := wallet.DeriveWalletFromMnemonic(mnemonic, "", g.net)
	if err != nil {
		fatal("%v", err)
	}
	saveWallet(g, store.NewWalletRecord(*name, km, mnemonic))

	if g.jsonOut {
		printJSON(map[string]string{"name": *name, "address": km.Address, "mnemonic": mnemonic, "path": km.Path.String()})
		return
	}
	fmt.Printf("Wallet %q created on %s\n", *name, g.net)
	fmt.Printf("  Address:  %s\n", km.Address)
	fmt.Printf("  Path:     %s\n", km.Path)
	fmt.Printf("  Mnemonic: %s\n", mnemonic)
	fmt.Println("Write the mnemonic down; it is the only backup of this wallet.")
}

func cmdRestore(g *globals, args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	name := fs.String("name", "default", "Wallet name")
	privKey := fs.Bool("privkey", false, "Read a hex private key instead of a mnemonic")
	_ = fs.Parse(args)

	var (
		km       *wallet.KeyMaterial
		mnemonic string
		err      error
	)
	if *privKey {
		secret := readSecret("Private key (hex): ")
		km, err = wallet.ImportPrivateKey(secret, g.net)
	} else {
		mnemonic = strings.Join(strings.Fields(readSecret("Mnemonic: ")), " ")
		if !validate.IsValidMnemonic(mnemonic) {
			fatal("%v", wallet.ErrInvalidMnemonic)
		}
		km, err = wallet.DeriveWalletFromMnemonic(mnemonic, "", g.net)
	}
	if err != nil {
		fatal("%v", err)
	}
	saveWallet(g, store.NewWalletRecord(*name, km, mnemonic))
	fmt.Printf("Wallet %q restored: %s\n", *name, km.Address)
}

func cmdList(g *globals) {
	db := openStore(g)
	defer func() { _ = db.Close() }()

	list, err := db.Wallets().ListWallets()
	if err != nil {
		fatal("%v", err)
	}
	if g.jsonOut {
		printJSON(list)
		return
	}
	if len(list) == 0 {
		fmt.Println("No wallets.")
		return
	}
	for _, w := range list {
		fmt.Printf("%-16s %s  (created %s)\n", w.Name, w.Address, w.CreatedAt.Format("2006-01-02"))
	}
}

func cmdAddress(g *globals, args []string) {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	name := fs.String("name", "default", "Wallet name")
	_ = fs.Parse(args)

	fmt.Println(lookupAddress(g, *name))
}

func cmdBalance(ctx context.Context, g *globals, args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	name := fs.String("name", "default", "Wallet name")
	addr := fs.String("address", "", "Address to query instead of a stored wallet")
	_ = fs.Parse(args)

	address := *addr
	if address == "" {
		address = lookupAddress(g, *name)
	}
	svc := newService(g, nil)
	bal, err := svc.Balance(ctx, address)
	if err != nil {
		fatal("%v", err)
	}
	if g.jsonOut {
		printJSON(map[string]interface{}{"address": address, "balance": bal})
		return
	}
	fmt.Printf("%s  %s (%s)\n", address, validate.FormatBTC(validate.SatoshisToBTC(int64(bal))), validate.FormatSatoshis(int64(bal)))
}

func cmdSend(ctx context.Context, g *globals, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	name := fs.String("name", "default", "Wallet name")
	to := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount in BTC (e.g. 0.0001)")
	sats := fs.Uint64("sats", 0, "Amount in satoshis")
	feeRate := fs.Uint64("feerate", 0, "Fee rate in sat/vbyte (default from config)")
	change := fs.String("change", "", "Change address (default: the wallet's own)")
	dryRun := fs.Bool("dry-run", false, "Build and sign without broadcasting")
	_ = fs.Parse(args)

	if *to == "" || (*amountStr == "" && *sats == 0) {
		fatal("Usage: btctx send --name <n> --to <addr> (--amount <btc> | --sats <n>)")
	}
	if *feeRate > tx.MaxFeeRate {
		fatal("--feerate %d exceeds %d sat/vbyte", *feeRate, tx.MaxFeeRate)
	}
	amount := *sats
	if *amountStr != "" {
		btc, err := strconv.ParseFloat(*amountStr, 64)
		if err != nil || !validate.IsValidAmountBTC(btc) {
			fatal("invalid amount %q", *amountStr)
		}
		amount = uint64(validate.BTCToSatoshis(btc))
	}

	rec := unlockWallet(g, *name)
	km, err := rec.KeyMaterial()
	if err != nil {
		fatal("%v", err)
	}

	db := openStore(g)
	defer func() { _ = db.Close() }()
	svc := newService(g, db.RawTxs())

	req := payment.SendRequest{
		Key:           km,
		Recipient:     *to,
		AmountSats:    amount,
		ChangeAddress: *change,
		FeeRate:       *feeRate,
	}

	if *dryRun {
		signed, err := svc.Prepare(ctx, req)
		if err != nil {
			fatal("%v", err)
		}
		if g.jsonOut {
			printJSON(map[string]interface{}{
				"txid": signed.TxID, "hex": signed.Hex(), "vsize": signed.VSize,
				"fee": signed.Fee + signed.DustAbsorbed, "dust_absorbed": signed.DustAbsorbed,
			})
			return
		}
		fmt.Printf("Signed (not broadcast): %s\n", signed.TxID)
		fmt.Printf("  VSize: %d vbytes\n", signed.VSize)
		fmt.Printf("  Fee:   %s\n", validate.FormatSatoshis(int64(signed.Fee+signed.DustAbsorbed)))
		fmt.Println(signed.Hex())
		return
	}

	res := svc.Send(ctx, req)
	if g.jsonOut {
		printJSON(res)
		if !res.Success {
			os.Exit(1)
		}
		return
	}
	if !res.Success {
		if res.Shortfall > 0 {
			fatal("%s (short by %s)", res.Error, validate.FormatSatoshis(int64(res.Shortfall)))
		}
		fatal("%s", res.Error)
	}
	fmt.Printf("Broadcast: %s\n", res.TxID)
	if explorer, ok := network.ExplorerURLs[g.net.String()]; ok {
		fmt.Printf("  Explorer: %s/tx/%s\n", explorer, res.TxID)
	}
	fmt.Printf("  Fee:      %s\n", validate.FormatSatoshis(int64(res.Fee)))
	if res.DustAbsorbed > 0 {
		fmt.Printf("  (includes %s of change below the dust threshold)\n", validate.FormatSatoshis(int64(res.DustAbsorbed)))
	}
}

func cmdStatus(ctx context.Context, g *globals, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	txid := fs.String("txid", "", "Transaction ID")
	_ = fs.Parse(args)
	if *txid == "" {
		fatal("Usage: btctx status --txid <txid>")
	}

	st, err := newService(g, nil).Status(ctx, *txid)
	if err != nil {
		fatal("%v", err)
	}
	if g.jsonOut {
		printJSON(st)
		return
	}
	if !st.Confirmed {
		fmt.Println("Unconfirmed (in mempool)")
		return
	}
	fmt.Printf("Confirmed: %d confirmations, block %d (%s)\n", st.Confirmations, st.BlockHeight, st.BlockHash)
}

// ── Helpers ─────────────────────────────────────────────────────────────

func newService(g *globals, cache store.RawTxStore) *payment.Service {
	chain, err := network.NewService(network.ServiceConfig{
		Backend: g.cfg.Backend,
		Network: g.cfg.Network,
		APIURL:  g.cfg.APIURL,
		RPC: network.RPCConfig{
			URL:      g.cfg.RPCURL,
			User:     g.cfg.RPCUser,
			Password: g.cfg.RPCPass,
		},
	}, environ())
	if err != nil {
		fatal("%v", err)
	}
	svc := payment.NewService(chain, g.net)
	svc.FeeRate = g.cfg.FeeRate
	svc.Logger = logging.Payment
	if cache != nil {
		svc.Parents = network.NewCachingTxFetcher(chain, cache, logging.Network)
	}
	return svc
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, k := range []string{network.EnvRPCURL, network.EnvRPCUser, network.EnvRPCPass, network.EnvAPIURL} {
		if v := os.Getenv(k); v != "" {
			env[k] = v
		}
	}
	return env
}

// openStore opens the per-network database under the data directory.
func openStore(g *globals) *store.BoltStore {
	db, err := store.Open(filepath.Join(g.cfg.DataDir, g.net.String(), "btctx.db"))
	if err != nil {
		fatal("%v", err)
	}
	logging.Store.Debug().Str("datadir", g.cfg.DataDir).Msg("store opened")
	return db
}

func saveWallet(g *globals, rec *store.WalletRecord) {
	password := readPassword("New password: ")
	if confirm := readPassword("Confirm password: "); confirm != password {
		fatal("passwords do not match")
	}
	db := openStore(g)
	defer func() { _ = db.Close() }()
	if err := db.Wallets().PutWallet(rec, password); err != nil {
		fatal("%v", err)
	}
}

func unlockWallet(g *globals, name string) *store.WalletRecord {
	password := readPassword("Password: ")
	db := openStore(g)
	defer func() { _ = db.Close() }()
	rec, err := db.Wallets().GetWallet(name, password)
	if err != nil {
		fatal("%v", err)
	}
	return rec
}

func lookupAddress(g *globals, name string) string {
	db := openStore(g)
	defer func() { _ = db.Close() }()
	list, err := db.Wallets().ListWallets()
	if err != nil {
		fatal("%v", err)
	}
	for _, w := range list {
		if w.Name == name {
			return w.Address
		}
	}
	fatal("%v: %s", store.ErrWalletNotFound, name)
	return ""
}

// ── Password helpers ────────────────────────────────────────────────────

func readPassword(prompt string) string {
	if !term.IsTerminal(int(syscall.Stdin)) {
		if pw := os.Getenv(envPassword); pw != "" {
			return pw
		}
		fatal("stdin is not a terminal; set %s", envPassword)
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		fatal("read password: %v", err)
	}
	return string(password)
}

// readSecret reads one line, hidden when stdin is a terminal.
func readSecret(prompt string) string {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fatal("read input: %v", err)
		}
		return strings.TrimSpace(string(b))
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fatal("read input: %v", err)
	}
	return strings.TrimSpace(line)
}

// ── Output helpers ──────────────────────────────────────────────────────

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("encode output: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	logging.CLI.WithLevel(zerolog.DebugLevel).Msgf(format, args...)
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
