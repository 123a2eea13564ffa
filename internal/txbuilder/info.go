package txbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// Input is a spent UTXO with the key position that controls it.
type Input struct {
	UTXO         account.UTXO
	Chain        uint32
	Index        uint32
	PubKey       []byte // compressed
	PkScript     []byte
	RedeemScript []byte // wrapped segwit only
}

// Output is a transaction output. Change outputs carry their derivation
// position on the internal chain.
type Output struct {
	Address  string
	Value    int64
	PkScript []byte
	Change   bool
	Chain    uint32
	Index    uint32
	// Change only.
	PubKey       []byte
	RedeemScript []byte
}

// DerivationContext is what a signer needs to locate the account keys.
type DerivationContext struct {
	AccountPath       derivation.Path
	MasterFingerprint uint32
	Mode              derivation.Mode
	Xpub              string
	Currency          currency.ID
	Network           string
}

// TransactionInfo is a built, unsigned transaction. It is immutable: every
// accessor returns a copy.
type TransactionInfo struct {
	inputs     []Input
	outputs    []Output
	fee        int64
	vsize      int64
	feeRate    int64
	strategy   string
	derivation DerivationContext
	tx         *wire.MsgTx
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (in Input) clone() Input {
	in.PubKey = cloneBytes(in.PubKey)
	in.PkScript = cloneBytes(in.PkScript)
	in.RedeemScript = cloneBytes(in.RedeemScript)
	return in
}

func (o Output) clone() Output {
	o.PkScript = cloneBytes(o.PkScript)
	o.PubKey = cloneBytes(o.PubKey)
	o.RedeemScript = cloneBytes(o.RedeemScript)
	return o
}

// Inputs returns the inputs in spending order.
func (t *TransactionInfo) Inputs() []Input {
	out := make([]Input, len(t.inputs))
	for i, in := range t.inputs {
		out[i] = in.clone()
	}
	return out
}

// Outputs returns all outputs: payment outputs first, then change.
func (t *TransactionInfo) Outputs() []Output {
	out := make([]Output, len(t.outputs))
	for i, o := range t.outputs {
		out[i] = o.clone()
	}
	return out
}

// PaymentOutputs returns the outputs paying the destination.
func (t *TransactionInfo) PaymentOutputs() []Output {
	var out []Output
	for _, o := range t.outputs {
		if !o.Change {
			out = append(out, o.clone())
		}
	}
	return out
}

// ChangeOutput returns the change output, if any.
func (t *TransactionInfo) ChangeOutput() (Output, bool) {
	for _, o := range t.outputs {
		if o.Change {
			return o.clone(), true
		}
	}
	return Output{}, false
}

// Fee returns the absolute fee.
func (t *TransactionInfo) Fee() int64 { return t.fee }

// VSize returns the estimated virtual size of the signed transaction.
func (t *TransactionInfo) VSize() int64 { return t.vsize }

// FeePerByte returns the requested fee rate.
func (t *TransactionInfo) FeePerByte() int64 { return t.feeRate }

// Strategy returns the name of the picking strategy used.
func (t *TransactionInfo) Strategy() string { return t.strategy }

// InputTotal returns the sum of input values.
func (t *TransactionInfo) InputTotal() int64 {
	var sum int64
	for _, in := range t.inputs {
		sum += in.UTXO.Value
	}
	return sum
}

// OutputTotal returns the sum of output values.
func (t *TransactionInfo) OutputTotal() int64 {
	var sum int64
	for _, o := range t.outputs {
		sum += o.Value
	}
	return sum
}

// Derivation returns the signing context.
func (t *TransactionInfo) Derivation() DerivationContext {
	d := t.derivation
	d.AccountPath = append(derivation.Path(nil), d.AccountPath...)
	return d
}

// UnsignedTx returns a copy of the unsigned transaction.
func (t *TransactionInfo) UnsignedTx() *wire.MsgTx {
	return t.tx.Copy()
}

// Serialize returns the unsigned transaction bytes.
func (t *TransactionInfo) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize tx: %w", err)
	}
	return buf.Bytes(), nil
}

// PSBT returns a packet over the unsigned transaction carrying the UTXO and
// BIP-32 derivation data of every input and of the change output.
//
// Legacy inputs carry no previous transaction; the signer must supply it.
func (t *TransactionInfo) PSBT() (*psbt.Packet, error) {
	p, err := psbt.NewFromUnsignedTx(t.tx.Copy())
	if err != nil {
		return nil, fmt.Errorf("create psbt: %w", err)
	}
	fp := psbtFingerprint(t.derivation.MasterFingerprint)
	mode := t.derivation.Mode

	for i, in := range t.inputs {
		pin := &p.Inputs[i]
		if mode.IsWitness() {
			pin.WitnessUtxo = wire.NewTxOut(in.UTXO.Value, cloneBytes(in.PkScript))
		}
		if len(in.RedeemScript) > 0 {
			pin.RedeemScript = cloneBytes(in.RedeemScript)
		}
		path := t.keyPath(in.Chain, in.Index)
		if mode == derivation.Taproot {
			xonly := cloneBytes(in.PubKey[1:])
			pin.TaprootInternalKey = xonly
			pin.TaprootBip32Derivation = taprootDerivation(xonly, fp, path)
		} else {
			pin.Bip32Derivation = bip32Derivation(in.PubKey, fp, path)
		}
	}

	for i, o := range t.outputs {
		if !o.Change {
			continue
		}
		pout := &p.Outputs[i]
		path := t.keyPath(o.Chain, o.Index)
		if len(o.RedeemScript) > 0 {
			pout.RedeemScript = cloneBytes(o.RedeemScript)
		}
		if mode == derivation.Taproot {
			xonly := cloneBytes(o.PubKey[1:])
			pout.TaprootInternalKey = xonly
			pout.TaprootBip32Derivation = taprootDerivation(xonly, fp, path)
		} else {
			pout.Bip32Derivation = bip32Derivation(o.PubKey, fp, path)
		}
	}
	return p, nil
}

func bip32Derivation(pub []byte, fp uint32, path []uint32) []*psbt.Bip32Derivation {
	return []*psbt.Bip32Derivation{{
		PubKey:               cloneBytes(pub),
		MasterKeyFingerprint: fp,
		Bip32Path:            path,
	}}
}

func taprootDerivation(xonly []byte, fp uint32, path []uint32) []*psbt.TaprootBip32Derivation {
	return []*psbt.TaprootBip32Derivation{{
		XOnlyPubKey:          xonly,
		MasterKeyFingerprint: fp,
		Bip32Path:            path,
	}}
}

func (t *TransactionInfo) keyPath(chain, index uint32) []uint32 {
	return append(append([]uint32(nil), t.derivation.AccountPath...), chain, index)
}

// psbtFingerprint converts a big-endian fingerprint to the little-endian
// integer psbt reads from the wire.
func psbtFingerprint(fp uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], fp)
	return binary.LittleEndian.Uint32(b[:])
}
