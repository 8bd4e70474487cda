// Package payment runs the send pipeline: validate the request, list the
// sender's UTXOs, select inputs first-fit, fetch parent transactions, build,
// sign and broadcast. Every outcome is reported as a TransactionResult.
package payment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/bitfsorg/libbtctx-go/network"
	"github.com/bitfsorg/libbtctx-go/tx"
	"github.com/bitfsorg/libbtctx-go/validate"
	"github.com/bitfsorg/libbtctx-go/wallet"
)

// Service sends payments from single-key P2WPKH wallets. It holds no
// per-payment state and may be shared between goroutines. It does not reserve
// UTXOs: two concurrent sends from one address can select the same outputs,
// and the network will reject the loser as a double spend.
type Service struct {
	Chain network.BlockchainService

	// Parents serves parent transactions; nil means Chain. Set it to a
	// network.CachingTxFetcher to keep parents in a local store.
	Parents network.ParentTxFetcher

	// Selector picks inputs; nil means tx.FirstFitSelector.
	Selector tx.CoinSelector

	Network wallet.Network

	// FeeRate in sat/vbyte applies when a request leaves its own at zero.
	// Zero here means tx.DefaultFeeRate.
	FeeRate uint64

	Logger zerolog.Logger
}

// NewService creates a Service with first-fit selection and no logging.
func NewService(chain network.BlockchainService, net wallet.Network) *Service {
	return &Service{
		Chain:    chain,
		Selector: tx.FirstFitSelector{},
		Network:  net,
		Logger:   zerolog.Nop(),
	}
}

// SendRequest describes one payment.
type SendRequest struct {
	// Key signs every input. When nil, PrivateKeyHex is imported instead.
	Key           *wallet.KeyMaterial
	PrivateKeyHex string

	// FromAddress, when set, must be the key's address.
	FromAddress string

	Recipient  string
	AmountSats uint64

	// ChangeAddress defaults to the sender's own address.
	ChangeAddress string

	// FeeRate in sat/vbyte; zero falls back to Service.FeeRate.
	FeeRate uint64
}

// TransactionResult is the terminal outcome of Send. On success the failure
// fields are empty; on failure only Error, ErrorKind and Shortfall are set.
type TransactionResult struct {
	Success bool   `json:"success"`
	TxID    string `json:"txid,omitempty"`

	// Fee is everything the miner receives: NominalFee plus DustAbsorbed.
	Fee          uint64 `json:"fee,omitempty"`
	NominalFee   uint64 `json:"nominal_fee,omitempty"`
	DustAbsorbed uint64 `json:"dust_absorbed,omitempty"`
	VSize        int64  `json:"vsize,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Shortfall uint64    `json:"shortfall,omitempty"`
}

// Send builds, signs and broadcasts req. Failures are returned in the result,
// never as a panic.
func (s *Service) Send(ctx context.Context, req SendRequest) TransactionResult {
	signed, err := s.Prepare(ctx, req)
	if err != nil {
		return failure(err)
	}

	log := s.Logger.With().Str("txid", signed.TxID).Logger()
	log.Debug().Int64("vsize", signed.VSize).Msg("broadcasting")
	txid, err := s.Chain.BroadcastTx(ctx, signed.Hex())
	if err != nil {
		return failure(newError(KindNetwork, err))
	}
	if txid != "" && txid != signed.TxID {
		log.Warn().Str("reported", txid).Msg("backend reported a different txid")
	}
	log.Info().Uint64("fee", signed.Fee+signed.DustAbsorbed).Msg("transaction broadcast")

	return TransactionResult{
		Success:      true,
		TxID:         signed.TxID,
		Fee:          signed.Fee + signed.DustAbsorbed,
		NominalFee:   signed.Fee,
		DustAbsorbed: signed.DustAbsorbed,
		VSize:        signed.VSize,
	}
}

// Prepare runs every stage of Send except the broadcast. Errors are tagged
// with their ErrorKind.
func (s *Service) Prepare(ctx context.Context, req SendRequest) (*tx.SignedTransaction, error) {
	km, err := s.keyFor(req)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req, km); err != nil {
		return nil, err
	}

	changeAddr := req.ChangeAddress
	if changeAddr == "" {
		changeAddr = km.Address
	}
	log := s.Logger.With().Str("from", km.Address).Str("to", req.Recipient).Logger()

	listed, err := s.Chain.ListUnspent(ctx, km.Address)
	if err != nil {
		return nil, newError(KindNetwork, fmt.Errorf("list unspent: %w", err))
	}
	utxos := ToTxUTXOs(listed)
	log.Debug().Int("utxos", len(utxos)).Msg("listed unspent outputs")

	sel, err := s.selector().Select(utxos, req.AmountSats, s.feeRate(req))
	if err != nil {
		return nil, newError(Classify(err), err)
	}
	log.Debug().
		Int("inputs", len(sel.Inputs)).
		Uint64("input_total", sel.InputTotal).
		Uint64("fee", sel.Fee).
		Msg("selected inputs")

	inputs, err := tx.FetchParents(ctx, s.parents(), sel.Inputs)
	if err != nil {
		return nil, newError(KindNetwork, err)
	}

	unsigned, err := tx.BuildUnsigned(inputs, req.Recipient, req.AmountSats, changeAddr, sel.Fee, s.Network)
	if err != nil {
		return nil, newError(Classify(err), err)
	}
	if unsigned.DustAbsorbed > 0 {
		log.Debug().Uint64("dust_absorbed", unsigned.DustAbsorbed).Msg("change below dust threshold goes to fee")
	}

	signed, err := tx.Sign(unsigned, km.PrivateKey)
	if err != nil {
		return nil, newError(KindSigning, err)
	}
	return signed, nil
}

// Balance returns the confirmed balance of address.
func (s *Service) Balance(ctx context.Context, address string) (uint64, error) {
	if !validate.IsValidAddress(address, s.Network) {
		return 0, newError(KindValidation, fmt.Errorf("%w: %q", validate.ErrInvalidAddress, address))
	}
	bal, err := s.Chain.GetBalance(ctx, address)
	if err != nil {
		return 0, newError(KindNetwork, err)
	}
	return bal, nil
}

// Status returns the confirmation status of txid.
func (s *Service) Status(ctx context.Context, txid string) (*network.TxStatus, error) {
	if b, err := hex.DecodeString(txid); err != nil || len(b) != 32 {
		return nil, newError(KindValidation, fmt.Errorf("invalid txid %q", txid))
	}
	st, err := s.Chain.GetTxStatus(ctx, txid)
	if err != nil {
		return nil, newError(KindNetwork, err)
	}
	return st, nil
}

func (s *Service) keyFor(req SendRequest) (*wallet.KeyMaterial, error) {
	if req.Key != nil {
		if req.Key.Network != s.Network {
			return nil, newError(KindDerivation, fmt.Errorf("%w: key is for %s, service for %s",
				wallet.ErrInvalidNetwork, req.Key.Network, s.Network))
		}
		return req.Key, nil
	}
	km, err := wallet.ImportPrivateKey(req.PrivateKeyHex, s.Network)
	if err != nil {
		return nil, newError(KindDerivation, err)
	}
	return km, nil
}

func (s *Service) validateRequest(req SendRequest, km *wallet.KeyMaterial) error {
	if req.FromAddress != "" && req.FromAddress != km.Address {
		return newError(KindValidation, fmt.Errorf("%w: %s", ErrFromAddressMismatch, req.FromAddress))
	}
	if req.AmountSats > math.MaxInt64 {
		return newError(KindValidation, &validate.ValidationError{
			Field: "amount", Reason: "exceeds maximum supply", Err: validate.ErrInvalidAmount,
		})
	}
	if err := validate.ValidateTransactionParams(req.Recipient, int64(req.AmountSats), s.Network); err != nil {
		return newError(KindValidation, err)
	}
	if rate := s.feeRate(req); rate > tx.MaxFeeRate {
		return newError(KindValidation, &validate.ValidationError{
			Field:  "fee rate",
			Reason: fmt.Sprintf("%d sat/vbyte exceeds %d", rate, tx.MaxFeeRate),
			Err:    tx.ErrInvalidParams,
		})
	}
	if req.ChangeAddress != "" && !validate.IsValidAddress(req.ChangeAddress, s.Network) {
		return newError(KindValidation, &validate.ValidationError{
			Field: "change address", Reason: "not a valid address for " + s.Network.String(), Err: validate.ErrInvalidAddress,
		})
	}
	return nil
}

func (s *Service) selector() tx.CoinSelector {
	if s.Selector == nil {
		return tx.FirstFitSelector{}
	}
	return s.Selector
}

func (s *Service) parents() tx.ParentTxFetcher {
	if s.Parents == nil {
		return s.Chain
	}
	return s.Parents
}

func (s *Service) feeRate(req SendRequest) uint64 {
	if req.FeeRate > 0 {
		return req.FeeRate
	}
	if s.FeeRate > 0 {
		return s.FeeRate
	}
	return tx.DefaultFeeRate
}

// ToTxUTXOs converts backend UTXOs to selector input, keeping order.
func ToTxUTXOs(in []*network.UTXO) []tx.UTXO {
	out := make([]tx.UTXO, 0, len(in))
	for _, u := range in {
		if u == nil {
			continue
		}
		out = append(out, tx.UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Amount,
			Confirmations: u.Confirmations,
		})
	}
	return out
}

func failure(err error) TransactionResult {
	res := TransactionResult{
		Error:     err.Error(),
		ErrorKind: Classify(err),
	}
	var ife *tx.InsufficientFundsError
	if errors.As(err, &ife) {
		res.Shortfall = ife.Shortfall()
	}
	return res
}
