package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libbtctx-go/network"
	"github.com/bitfsorg/libbtctx-go/store"
	"github.com/bitfsorg/libbtctx-go/tx"
	"github.com/bitfsorg/libbtctx-go/validate"
	"github.com/bitfsorg/libbtctx-go/wallet"
)

const (
	testMnemonic  = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testRecipient = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
)

func testKey(t *testing.T) *wallet.KeyMaterial {
	t.Helper()
	km, err := wallet.DeriveWalletFromMnemonic(testMnemonic, "", wallet.TestNet)
	require.NoError(t, err)
	return km
}

// fakeChain is an in-memory backend holding parents that pay the owner.
type fakeChain struct {
	mu         sync.Mutex
	utxos      []*network.UTXO
	parents    map[string][]byte
	rawCalls   int
	broadcasts []string
	listErr    error
	rawErr     error
	sendErr    error
}

// fund adds an output of amount paying script and returns its txid.
func (c *fakeChain) fund(t *testing.T, script []byte, amount uint64) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parents == nil {
		c.parents = make(map[string][]byte)
	}
	prev := chainhash.Hash(sha256.Sum256([]byte(fmt.Sprintf("parent-%d", len(c.parents)))))
	parent := wire.NewMsgTx(2)
	parent.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), []byte{0x51}, nil))
	parent.AddTxOut(wire.NewTxOut(int64(amount), script))
	var buf bytes.Buffer
	require.NoError(t, parent.Serialize(&buf))

	txid := parent.TxHash().String()
	c.parents[txid] = buf.Bytes()
	c.utxos = append(c.utxos, &network.UTXO{TxID: txid, Vout: 0, Amount: amount, Confirmations: 3})
	return txid
}

func (c *fakeChain) service() *network.MockBlockchainService {
	return &network.MockBlockchainService{
		ListUnspentFn: func(context.Context, string) ([]*network.UTXO, error) {
			return c.utxos, c.listErr
		},
		GetRawTxFn: func(_ context.Context, txid string) ([]byte, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.rawCalls++
			if c.rawErr != nil {
				return nil, c.rawErr
			}
			raw, ok := c.parents[txid]
			if !ok {
				return nil, network.ErrTxNotFound
			}
			return raw, nil
		},
		BroadcastTxFn: func(_ context.Context, rawHex string) (string, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.sendErr != nil {
				return "", c.sendErr
			}
			c.broadcasts = append(c.broadcasts, rawHex)
			raw, _ := hex.DecodeString(rawHex)
			var msgTx wire.MsgTx
			if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
				return "", err
			}
			return msgTx.TxHash().String(), nil
		},
		GetBalanceFn: func(context.Context, string) (uint64, error) {
			var total uint64
			for _, u := range c.utxos {
				total += u.Amount
			}
			return total, nil
		},
		GetTxStatusFn: func(_ context.Context, txid string) (*network.TxStatus, error) {
			return &network.TxStatus{Confirmed: true, BlockHeight: 100, Confirmations: 2}, nil
		},
		GetBestBlockHeightFn: func(context.Context) (uint64, error) { return 101, nil },
	}
}

func setup(t *testing.T, amounts ...uint64) (*Service, *fakeChain, *wallet.KeyMaterial) {
	t.Helper()
	km := testKey(t)
	script, err := km.WitnessScript()
	require.NoError(t, err)
	chain := &fakeChain{}
	for _, a := range amounts {
		chain.fund(t, script, a)
	}
	return NewService(chain.service(), wallet.TestNet), chain, km
}

func parseBroadcast(t *testing.T, chain *fakeChain, i int) *tx.ParsedTransaction {
	t.Helper()
	require.Greater(t, len(chain.broadcasts), i)
	raw, err := hex.DecodeString(chain.broadcasts[i])
	require.NoError(t, err)
	parsed, err := tx.ParseTransaction(raw, wallet.TestNet)
	require.NoError(t, err)
	return parsed
}

func TestSend_WithChange(t *testing.T) {
	svc, chain, km := setup(t, 50_000)

	res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.TxID, 64)
	assert.Equal(t, uint64(250), res.Fee)
	assert.Equal(t, uint64(250), res.NominalFee)
	assert.Zero(t, res.DustAbsorbed)
	assert.Positive(t, res.VSize)
	assert.Empty(t, res.Error)
	assert.Empty(t, res.ErrorKind)

	parsed := parseBroadcast(t, chain, 0)
	assert.Equal(t, res.TxID, parsed.TxID)
	require.Len(t, parsed.Outputs, 2)
	assert.Equal(t, testRecipient, parsed.Outputs[0].Address)
	assert.Equal(t, uint64(10_000), parsed.Outputs[0].Amount)
	assert.Equal(t, km.Address, parsed.Outputs[1].Address, "change defaults to the sender")
	assert.Equal(t, uint64(39_750), parsed.Outputs[1].Amount)
}

func TestSend_InsufficientFunds(t *testing.T) {
	svc, chain, km := setup(t, 10_100)

	res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	assert.False(t, res.Success)
	assert.Equal(t, KindInsufficientFunds, res.ErrorKind)
	assert.Equal(t, uint64(150), res.Shortfall)
	assert.Contains(t, res.Error, "need 10250 sats, have 10100 sats")
	assert.Empty(t, res.TxID)
	assert.Zero(t, res.Fee)
	assert.Empty(t, chain.broadcasts)
	assert.Zero(t, chain.rawCalls, "no parents fetched before selection succeeds")
}

func TestSend_DustAbsorbed(t *testing.T) {
	svc, chain, km := setup(t, 10_550)

	res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, uint64(250), res.NominalFee)
	assert.Equal(t, uint64(300), res.DustAbsorbed)
	assert.Equal(t, uint64(550), res.Fee)

	parsed := parseBroadcast(t, chain, 0)
	require.Len(t, parsed.Outputs, 1)
	assert.Equal(t, uint64(10_000), parsed.Outputs[0].Amount)
}

func TestSend_FirstFitPrefix(t *testing.T) {
	svc, chain, km := setup(t, 4000, 7000, 90_000, 5000)

	res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	require.True(t, res.Success, res.Error)

	parsed := parseBroadcast(t, chain, 0)
	require.Len(t, parsed.Inputs, 2)
	assert.Equal(t, chain.utxos[0].TxID, parsed.Inputs[0].TxID)
	assert.Equal(t, chain.utxos[1].TxID, parsed.Inputs[1].TxID)
	assert.Equal(t, 2, chain.rawCalls)
}

func TestSend_FeeRate(t *testing.T) {
	svc, chain, km := setup(t, 50_000)
	svc.FeeRate = 3

	res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, uint64(750), res.Fee)

	res = svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000, FeeRate: 2})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, uint64(500), res.Fee, "request rate wins")
	assert.Len(t, chain.broadcasts, 2)
}

func TestSend_FeeRateBound(t *testing.T) {
	svc, chain, km := setup(t, 50_000)

	svc.FeeRate = tx.MaxFeeRate + 1
	res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	assert.False(t, res.Success)
	assert.Equal(t, KindValidation, res.ErrorKind)

	res = svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000, FeeRate: 4})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, uint64(1000), res.Fee, "a valid request rate overrides the service rate")

	svc.FeeRate = 0
	res = svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, tx.EstimatedTxSize*tx.DefaultFeeRate, res.Fee, "unset rates use the default")
	assert.Len(t, chain.broadcasts, 2)
}

func TestSend_PrivateKeyHexAndChangeAddress(t *testing.T) {
	svc, chain, km := setup(t, 50_000)
	change := "tb1qrp33g0q5c5txsp9arysrx4k6zdkfs4nce4xj0gdcccefvpysxf3q0sl5k7"

	res := svc.Send(context.Background(), SendRequest{
		PrivateKeyHex: km.PrivateKeyHex(),
		FromAddress:   km.Address,
		Recipient:     testRecipient,
		AmountSats:    10_000,
		ChangeAddress: change,
	})
	require.True(t, res.Success, res.Error)

	parsed := parseBroadcast(t, chain, 0)
	require.Len(t, parsed.Outputs, 2)
	assert.Equal(t, change, parsed.Outputs[1].Address)
}

func TestSend_ValidationFailures(t *testing.T) {
	svc, chain, km := setup(t, 50_000)
	tests := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"bad recipient", SendRequest{Key: km, Recipient: "not-an-address", AmountSats: 10_000}, validate.ErrInvalidAddress},
		{"mainnet recipient", SendRequest{Key: km, Recipient: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", AmountSats: 10_000}, validate.ErrInvalidAddress},
		{"zero amount", SendRequest{Key: km, Recipient: testRecipient}, validate.ErrInvalidAmount},
		{"below dust", SendRequest{Key: km, Recipient: testRecipient, AmountSats: 545}, validate.ErrBelowDust},
		{"huge amount", SendRequest{Key: km, Recipient: testRecipient, AmountSats: 1 << 63}, validate.ErrInvalidAmount},
		{"bad change", SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000, ChangeAddress: "xyz"}, validate.ErrInvalidAddress},
		{"wrong from", SendRequest{Key: km, FromAddress: testRecipient, Recipient: testRecipient, AmountSats: 10_000}, ErrFromAddressMismatch},
		{"fee rate too high", SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000, FeeRate: tx.MaxFeeRate + 1}, tx.ErrInvalidParams},
		{"fee rate wraps", SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000, FeeRate: math.MaxUint64/tx.EstimatedTxSize + 1}, tx.ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Send(context.Background(), tt.req)
			assert.False(t, res.Success)
			assert.Equal(t, KindValidation, res.ErrorKind)
			assert.NotEmpty(t, res.Error)

			_, err := svc.Prepare(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, chain.broadcasts)
}

func TestSend_DerivationFailures(t *testing.T) {
	svc, _, _ := setup(t, 50_000)

	res := svc.Send(context.Background(), SendRequest{PrivateKeyHex: "zz", Recipient: testRecipient, AmountSats: 10_000})
	assert.Equal(t, KindDerivation, res.ErrorKind)

	zero := hex.EncodeToString(make([]byte, 32))
	res = svc.Send(context.Background(), SendRequest{PrivateKeyHex: zero, Recipient: testRecipient, AmountSats: 10_000})
	assert.Equal(t, KindDerivation, res.ErrorKind)

	mainKey, err := wallet.DeriveWalletFromMnemonic(testMnemonic, "", wallet.MainNet)
	require.NoError(t, err)
	res = svc.Send(context.Background(), SendRequest{Key: mainKey, Recipient: testRecipient, AmountSats: 10_000})
	assert.Equal(t, KindDerivation, res.ErrorKind)
}

func TestSend_NetworkFailures(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("list unspent", func(t *testing.T) {
		svc, chain, km := setup(t, 50_000)
		chain.listErr = fmt.Errorf("%w: %w", network.ErrConnectionFailed, boom)
		res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
		assert.Equal(t, KindNetwork, res.ErrorKind)
		assert.Contains(t, res.Error, "connection reset")
	})

	t.Run("parent fetch", func(t *testing.T) {
		svc, chain, km := setup(t, 50_000)
		chain.rawErr = boom
		res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
		assert.Equal(t, KindNetwork, res.ErrorKind)
		assert.Equal(t, 1, chain.rawCalls, "no retries")
	})

	t.Run("broadcast rejected", func(t *testing.T) {
		svc, chain, km := setup(t, 50_000)
		chain.sendErr = fmt.Errorf("%w: txn-mempool-conflict", network.ErrBroadcastRejected)
		res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
		assert.False(t, res.Success)
		assert.Equal(t, KindNetwork, res.ErrorKind)
		assert.Empty(t, res.TxID)
		assert.Contains(t, res.Error, "txn-mempool-conflict")
	})

	t.Run("no utxos", func(t *testing.T) {
		svc, _, km := setup(t)
		res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
		assert.Equal(t, KindInsufficientFunds, res.ErrorKind)
		assert.Equal(t, uint64(10_250), res.Shortfall)
	})
}

func TestSend_SigningFailure(t *testing.T) {
	// Outputs locked to a different key: selection and build succeed, signing cannot.
	other, err := wallet.DeriveWalletFromMnemonic(testMnemonic, "other", wallet.TestNet)
	require.NoError(t, err)
	script, err := other.WitnessScript()
	require.NoError(t, err)

	km := testKey(t)
	chain := &fakeChain{}
	chain.fund(t, script, 50_000)
	svc := NewService(chain.service(), wallet.TestNet)

	res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	assert.False(t, res.Success)
	assert.Equal(t, KindSigning, res.ErrorKind)
	assert.Empty(t, chain.broadcasts)

	_, err = svc.Prepare(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	assert.ErrorIs(t, err, tx.ErrKeyMismatch)
}

func TestSend_ParentMismatchIsNetwork(t *testing.T) {
	svc, chain, km := setup(t, 50_000)
	// The backend claims more value than the parent actually holds.
	chain.utxos[0].Amount = 60_000

	res := svc.Send(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	assert.Equal(t, KindNetwork, res.ErrorKind)
}

func TestPrepare_DoesNotBroadcast(t *testing.T) {
	svc, chain, km := setup(t, 50_000)

	signed, err := svc.Prepare(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
	require.NoError(t, err)
	assert.Empty(t, chain.broadcasts)
	assert.Equal(t, uint64(250), signed.Fee)

	parsed, err := tx.ParseTransaction(signed.Raw, wallet.TestNet)
	require.NoError(t, err)
	assert.Equal(t, signed.TxID, parsed.TxID)
}

func TestSend_CachedParents(t *testing.T) {
	svc, chain, km := setup(t, 50_000)
	svc.Parents = network.NewCachingTxFetcher(svc.Chain, store.NewMemRawTxStore(), zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := svc.Prepare(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, chain.rawCalls)
}

func TestSend_ConcurrentPrepares(t *testing.T) {
	svc, _, km := setup(t, 50_000)

	var wg sync.WaitGroup
	txids := make([]string, 4)
	for i := range txids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			signed, err := svc.Prepare(context.Background(), SendRequest{Key: km, Recipient: testRecipient, AmountSats: 10_000})
			if assert.NoError(t, err) {
				txids[i] = signed.TxID
			}
		}(i)
	}
	wg.Wait()

	// Same UTXO set, same key, deterministic signatures: every attempt
	// produces the identical double spend.
	for _, id := range txids[1:] {
		assert.Equal(t, txids[0], id)
	}
}

func TestBalanceAndStatus(t *testing.T) {
	svc, _, km := setup(t, 1000, 2000)

	bal, err := svc.Balance(context.Background(), km.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), bal)

	_, err = svc.Balance(context.Background(), "bogus")
	assert.Equal(t, KindValidation, Classify(err))

	st, err := svc.Status(context.Background(), "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")
	require.NoError(t, err)
	assert.True(t, st.Confirmed)

	_, err = svc.Status(context.Background(), "short")
	assert.Equal(t, KindValidation, Classify(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{&Error{Kind: KindSigning, Err: errors.New("x")}, KindSigning},
		{&validate.ValidationError{Field: "amount", Err: validate.ErrBelowDust}, KindValidation},
		{&tx.InsufficientFundsError{Needed: 2, Available: 1}, KindInsufficientFunds},
		{fmt.Errorf("wrap: %w", wallet.ErrInvalidMnemonic), KindDerivation},
		{wallet.ErrKeyOutOfRange, KindDerivation},
		{tx.ErrKeyMismatch, KindSigning},
		{tx.ErrUnbalanced, KindSigning},
		{fmt.Errorf("%w: %w", tx.ErrParentFetch, network.ErrTxNotFound), KindNetwork},
		{network.ErrBroadcastRejected, KindNetwork},
		{context.DeadlineExceeded, KindNetwork},
		{errors.New("something opaque"), KindNetwork},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestError_Unwrap(t *testing.T) {
	err := newError(KindNetwork, network.ErrConnectionFailed)
	assert.ErrorIs(t, err, network.ErrConnectionFailed)
	assert.Equal(t, "payment: network: network: connection failed", err.Error())
}

func TestToTxUTXOs(t *testing.T) {
	in := []*network.UTXO{
		{TxID: "bb", Vout: 1, Amount: 5, Confirmations: 2, Address: "x"},
		nil,
		{TxID: "aa", Vout: 0, Amount: 7},
	}
	out := ToTxUTXOs(in)
	require.Len(t, out, 2)
	assert.Equal(t, tx.UTXO{TxID: "bb", Vout: 1, Amount: 5, Confirmations: 2}, out[0])
	assert.Equal(t, "aa", out[1].TxID)
}
