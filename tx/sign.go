package tx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// SignedTransaction is a finalized transaction ready for broadcast.
type SignedTransaction struct {
	Raw          []byte
	TxID         string // display-order hex
	VSize        int64
	Weight       int64
	Fee          uint64
	DustAbsorbed uint64
}

// Hex returns the raw transaction as lowercase hex.
func (s *SignedTransaction) Hex() string {
	return fmt.Sprintf("%x", s.Raw)
}

// Sign signs every input of unsigned with key and returns the finalized
// transaction. Every input must be a P2WPKH output of key. On any failure
// unsigned is left unchanged and no partially signed data is returned.
func Sign(unsigned *UnsignedTransaction, key *ec.PrivateKey) (*SignedTransaction, error) {
	if unsigned == nil {
		return nil, fmt.Errorf("%w: unsigned transaction", ErrNilParam)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: private key", ErrNilParam)
	}
	if unsigned.State != StateOutputsAdded {
		return nil, fmt.Errorf("%w: cannot sign in state %s", ErrInvalidState, unsigned.State)
	}
	if err := unsigned.checkBalance(); err != nil {
		return nil, err
	}

	privKey := secp256k1.PrivKeyFromBytes(key.Serialize())
	pubKey := privKey.PubKey()
	pubBytes := pubKey.SerializeCompressed()
	ownScript, err := p2wpkhScript(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	// Sign a private copy so a failure never leaves signatures behind.
	packet, err := clonePacket(unsigned.packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(packet.Inputs))
	for i, pin := range packet.Inputs {
		if !bytes.Equal(pin.WitnessUtxo.PkScript, ownScript) {
			return nil, fmt.Errorf("%w: input %d locked by %x", ErrKeyMismatch, i, pin.WitnessUtxo.PkScript)
		}
		prevOuts[packet.UnsignedTx.TxIn[i].PreviousOutPoint] = pin.WitnessUtxo
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, txscript.NewMultiPrevOutFetcher(prevOuts))

	for i, pin := range packet.Inputs {
		sigHash, err := txscript.CalcWitnessSigHash(
			pin.WitnessUtxo.PkScript,
			sigHashes,
			txscript.SigHashAll,
			packet.UnsignedTx,
			i,
			pin.WitnessUtxo.Value,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: sighash for input %d: %w", ErrSigningFailed, i, err)
		}

		sig := ecdsa.Sign(privKey, sigHash)
		if !sig.Verify(sigHash, pubKey) {
			return nil, fmt.Errorf("%w: signature for input %d does not verify", ErrSigningFailed, i)
		}
		sigBytes := append(sig.Serialize(), byte(txscript.SigHashAll))

		outcome, err := updater.Sign(i, sigBytes, pubBytes, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrSigningFailed, i, err)
		}
		if outcome != psbt.SignSuccesful {
			return nil, fmt.Errorf("%w: input %d: sign outcome %d", ErrSigningFailed, i, outcome)
		}
	}
	// StateSigned: every input carries a verified partial signature.

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("%w: finalize: %w", ErrSigningFailed, err)
	}
	final, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: extract: %w", ErrSigningFailed, err)
	}

	signed, err := finishSigned(final, unsigned)
	if err != nil {
		return nil, err
	}
	unsigned.State = StateFinalized
	return signed, nil
}

// finishSigned serializes the final transaction, re-parses it and checks that
// the round trip preserves identity and values.
func finishSigned(final *wire.MsgTx, unsigned *UnsignedTransaction) (*SignedTransaction, error) {
	var buf bytes.Buffer
	if err := final.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: serialize: %w", ErrSigningFailed, err)
	}
	raw := buf.Bytes()

	reparsed, err := decodeTx(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: re-parse: %w", ErrSigningFailed, err)
	}
	if reparsed.TxHash() != final.TxHash() {
		return nil, fmt.Errorf("%w: txid changed across serialization", ErrSigningFailed)
	}
	if len(reparsed.TxIn) != len(unsigned.Inputs) || len(reparsed.TxOut) != len(unsigned.Outputs) {
		return nil, fmt.Errorf("%w: shape changed across serialization", ErrSigningFailed)
	}
	for i, out := range reparsed.TxOut {
		if uint64(out.Value) != unsigned.Outputs[i].Amount {
			return nil, fmt.Errorf("%w: output %d value changed", ErrSigningFailed, i)
		}
	}
	for i, in := range reparsed.TxIn {
		if len(in.Witness) != 2 {
			return nil, fmt.Errorf("%w: input %d has %d witness items", ErrSigningFailed, i, len(in.Witness))
		}
	}

	weight := txWeight(reparsed)
	return &SignedTransaction{
		Raw:          raw,
		TxID:         reparsed.TxHash().String(),
		VSize:        (weight + 3) / 4,
		Weight:       weight,
		Fee:          unsigned.Fee,
		DustAbsorbed: unsigned.DustAbsorbed,
	}, nil
}

// txWeight is stripped size * 3 + total size.
func txWeight(msgTx *wire.MsgTx) int64 {
	return int64(msgTx.SerializeSizeStripped()*3 + msgTx.SerializeSize())
}

// p2wpkhScript returns OP_0 <HASH160(pubkey)>.
func p2wpkhScript(compressedPubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(compressedPubKey)).
		Script()
}

func clonePacket(p *psbt.Packet) (*psbt.Packet, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no packet", ErrInvalidState)
	}
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return nil, err
	}
	return psbt.NewFromRawBytes(&buf, false)
}
