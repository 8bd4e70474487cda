package tx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitfsorg/libbtctx-go/validate"
	"github.com/bitfsorg/libbtctx-go/wallet"
)

// TxVersion is the version of every transaction built here.
const TxVersion = 2

// State is the position of a transaction in its build/sign lifecycle.
type State int

const (
	StateEmpty State = iota
	StateInputsAdded
	StateOutputsAdded
	StateSigned
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateInputsAdded:
		return "inputs-added"
	case StateOutputsAdded:
		return "outputs-added"
	case StateSigned:
		return "signed"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Output is one payment output.
type Output struct {
	Address  string `json:"address"`
	Amount   uint64 `json:"amount"`
	PkScript []byte `json:"-"`
}

// UnsignedTransaction is a balanced transaction waiting for signatures.
// Sum(Outputs) + Fee + DustAbsorbed always equals the input total.
type UnsignedTransaction struct {
	Inputs       []Input
	Outputs      []Output
	Fee          uint64 // nominal fee from selection
	DustAbsorbed uint64 // change at or below the dust threshold, paid as extra fee
	ChangeIndex  int    // index of the change output, -1 if none
	State        State
	Network      wallet.Network

	packet *psbt.Packet
}

// InputTotal sums the input values.
func (u *UnsignedTransaction) InputTotal() uint64 {
	var total uint64
	for _, in := range u.Inputs {
		total += in.Amount
	}
	return total
}

// OutputTotal sums the output values.
func (u *UnsignedTransaction) OutputTotal() uint64 {
	var total uint64
	for _, out := range u.Outputs {
		total += out.Amount
	}
	return total
}

// TotalFee is the fee the network actually receives: Fee + DustAbsorbed.
func (u *UnsignedTransaction) TotalFee() uint64 {
	return u.Fee + u.DustAbsorbed
}

// PSBT returns the base64 BIP174 packet. It carries no signatures.
func (u *UnsignedTransaction) PSBT() (string, error) {
	if u.packet == nil {
		return "", fmt.Errorf("%w: no packet", ErrInvalidState)
	}
	return u.packet.B64Encode()
}

// checkBalance re-verifies the value invariant against the packet itself.
func (u *UnsignedTransaction) checkBalance() error {
	if u.packet == nil {
		return fmt.Errorf("%w: no packet", ErrInvalidState)
	}
	if len(u.packet.Inputs) != len(u.Inputs) || len(u.packet.UnsignedTx.TxOut) != len(u.Outputs) {
		return fmt.Errorf("%w: packet shape differs from transaction", ErrInvalidState)
	}

	var in, out uint64
	for i, pin := range u.packet.Inputs {
		if pin.WitnessUtxo == nil {
			return fmt.Errorf("%w: input %d has no previous output", ErrInvalidState, i)
		}
		in += uint64(pin.WitnessUtxo.Value)
	}
	for _, txOut := range u.packet.UnsignedTx.TxOut {
		out += uint64(txOut.Value)
	}
	if out+u.Fee+u.DustAbsorbed != in {
		return fmt.Errorf("%w: in %d, out %d, fee %d, dust %d",
			ErrUnbalanced, in, out, u.Fee, u.DustAbsorbed)
	}
	return nil
}

// Builder assembles an UnsignedTransaction. Inputs must all be added before
// the first output; Build may only follow at least one output.
type Builder struct {
	net     wallet.Network
	state   State
	inputs  []Input
	parents []*wire.MsgTx
	outputs []Output
	seen    map[wire.OutPoint]struct{}
}

// NewBuilder returns an empty builder resolving addresses for net.
func NewBuilder(net wallet.Network) *Builder {
	return &Builder{
		net:  net,
		seen: make(map[wire.OutPoint]struct{}),
	}
}

// State returns the builder's current state.
func (b *Builder) State() State { return b.state }

// AddInput adds a UTXO spend. The parent bytes must hash to the UTXO's txid
// and the referenced output must exist with exactly the UTXO's value.
func (b *Builder) AddInput(in Input) error {
	if b.state != StateEmpty && b.state != StateInputsAdded {
		return fmt.Errorf("%w: cannot add input in state %s", ErrInvalidState, b.state)
	}
	if len(in.ParentTx) == 0 {
		return fmt.Errorf("%w: %s has no parent transaction", ErrNilParam, in.TxID)
	}

	hash, err := chainhash.NewHashFromStr(in.TxID)
	if err != nil {
		return fmt.Errorf("%w: txid %q: %w", ErrInvalidParams, in.TxID, err)
	}
	op := wire.OutPoint{Hash: *hash, Index: in.Vout}
	if _, dup := b.seen[op]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateInput, op)
	}

	parent, err := decodeTx(in.ParentTx)
	if err != nil {
		return fmt.Errorf("%w: parent of %s: %w", ErrParentMismatch, op, err)
	}
	if got := parent.TxHash(); got != *hash {
		return fmt.Errorf("%w: parent hashes to %s, want %s", ErrParentMismatch, got, hash)
	}
	if int(in.Vout) >= len(parent.TxOut) {
		return fmt.Errorf("%w: %s: parent has %d outputs", ErrParentMismatch, op, len(parent.TxOut))
	}
	if v := parent.TxOut[in.Vout].Value; v < 0 || uint64(v) != in.Amount {
		return fmt.Errorf("%w: %s: parent output holds %d sats, UTXO says %d",
			ErrParentMismatch, op, v, in.Amount)
	}

	b.seen[op] = struct{}{}
	b.inputs = append(b.inputs, in)
	b.parents = append(b.parents, parent)
	b.state = StateInputsAdded
	return nil
}

// AddOutput appends a payment to address and returns its index.
func (b *Builder) AddOutput(address string, amount uint64) (int, error) {
	if b.state != StateInputsAdded && b.state != StateOutputsAdded {
		return -1, fmt.Errorf("%w: cannot add output in state %s", ErrInvalidState, b.state)
	}
	if amount == 0 || amount > validate.MaxSatoshis {
		return -1, fmt.Errorf("%w: amount %d", ErrInvalidOutput, amount)
	}
	script, err := payToAddress(address, b.net)
	if err != nil {
		return -1, err
	}
	b.outputs = append(b.outputs, Output{Address: address, Amount: amount, PkScript: script})
	b.state = StateOutputsAdded
	return len(b.outputs) - 1, nil
}

// Build fixes the nominal fee and produces the unsigned transaction. Any
// value left over after outputs and fee is reported as DustAbsorbed.
func (b *Builder) Build(fee uint64) (*UnsignedTransaction, error) {
	if b.state != StateOutputsAdded {
		return nil, fmt.Errorf("%w: cannot build in state %s", ErrInvalidState, b.state)
	}

	var in, out uint64
	for _, input := range b.inputs {
		in += input.Amount
	}
	for _, output := range b.outputs {
		out += output.Amount
	}
	if out+fee > in {
		return nil, &InsufficientFundsError{Needed: out + fee, Available: in}
	}

	msgTx := wire.NewMsgTx(TxVersion)
	for _, input := range b.inputs {
		hash, _ := chainhash.NewHashFromStr(input.TxID)
		msgTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, input.Vout), nil, nil))
	}
	for _, output := range b.outputs {
		msgTx.AddTxOut(wire.NewTxOut(int64(output.Amount), output.PkScript))
	}

	packet, err := psbt.NewFromUnsignedTx(msgTx)
	if err != nil {
		return nil, fmt.Errorf("%w: psbt: %w", ErrInvalidParams, err)
	}
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: psbt updater: %w", ErrInvalidParams, err)
	}
	for i, input := range b.inputs {
		parent := b.parents[i]
		if err := updater.AddInNonWitnessUtxo(parent, i); err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrInvalidParams, i, err)
		}
		if err := updater.AddInWitnessUtxo(parent.TxOut[input.Vout], i); err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrInvalidParams, i, err)
		}
		if err := updater.AddInSighashType(txscript.SigHashAll, i); err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrInvalidParams, i, err)
		}
	}

	unsigned := &UnsignedTransaction{
		Inputs:       append([]Input(nil), b.inputs...),
		Outputs:      append([]Output(nil), b.outputs...),
		Fee:          fee,
		DustAbsorbed: in - out - fee,
		ChangeIndex:  -1,
		State:        StateOutputsAdded,
		Network:      b.net,
		packet:       packet,
	}
	if err := unsigned.checkBalance(); err != nil {
		return nil, err
	}
	return unsigned, nil
}

// BuildUnsigned pays amount to recipient from inputs. Change above the dust
// threshold goes to changeAddress; anything at or below it is left to the
// miner and reported in DustAbsorbed.
func BuildUnsigned(inputs []Input, recipient string, amount uint64, changeAddress string, fee uint64, net wallet.Network) (*UnsignedTransaction, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrInvalidParams)
	}

	b := NewBuilder(net)
	var total uint64
	for _, in := range inputs {
		if err := b.AddInput(in); err != nil {
			return nil, err
		}
		total += in.Amount
	}
	if _, err := b.AddOutput(recipient, amount); err != nil {
		return nil, err
	}
	if fee > validate.MaxSatoshis || total < amount+fee {
		return nil, &InsufficientFundsError{Needed: amount + fee, Available: total}
	}

	change := total - amount - fee
	changeIndex := -1
	if change > validate.DustThreshold {
		idx, err := b.AddOutput(changeAddress, change)
		if err != nil {
			return nil, fmt.Errorf("change: %w", err)
		}
		changeIndex = idx
	}

	unsigned, err := b.Build(fee)
	if err != nil {
		return nil, err
	}
	unsigned.ChangeIndex = changeIndex
	if changeIndex < 0 && unsigned.DustAbsorbed != change {
		return nil, fmt.Errorf("%w: absorbed %d, change was %d", ErrUnbalanced, unsigned.DustAbsorbed, change)
	}
	return unsigned, nil
}

// payToAddress resolves address for net and returns its locking script.
func payToAddress(address string, net wallet.Network) ([]byte, error) {
	params := net.ChainParams()
	if params == nil {
		return nil, fmt.Errorf("%w: %d", wallet.ErrInvalidNetwork, net)
	}
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("%w: address %q: %w", ErrInvalidOutput, address, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("%w: address %q is not for %s", ErrInvalidOutput, address, net)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: address %q: %w", ErrInvalidOutput, address, err)
	}
	return script, nil
}

// decodeTx parses a serialized transaction, rejecting trailing bytes.
func decodeTx(raw []byte) (*wire.MsgTx, error) {
	msgTx := wire.NewMsgTx(TxVersion)
	r := bytes.NewReader(raw)
	if err := msgTx.Deserialize(r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTransaction, r.Len())
	}
	return msgTx, nil
}
