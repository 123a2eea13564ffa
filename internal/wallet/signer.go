package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Signer turns an unsigned transaction into signed bytes. Implementations
// may be hardware devices, software key stores or test doubles.
type Signer interface {
	SignTransaction(ctx context.Context, packet *psbt.Packet, dc txbuilder.DerivationContext) ([]byte, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, packet *psbt.Packet, dc txbuilder.DerivationContext) ([]byte, error)

// SignTransaction implements Signer.
func (f SignerFunc) SignTransaction(ctx context.Context, packet *psbt.Packet, dc txbuilder.DerivationContext) ([]byte, error) {
	return f(ctx, packet, dc)
}

// SigningError wraps any failure of the signer.
type SigningError struct {
	Input int // -1 when not tied to an input
	Err   error
}

func (e *SigningError) Error() string {
	if e.Input >= 0 {
		return fmt.Sprintf("sign input %d: %v", e.Input, e.Err)
	}
	return "sign: " + e.Err.Error()
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// ErrWrongSeed is returned when the signer's seed did not derive the account.
var ErrWrongSeed = errors.New("seed does not match account")

// SeedSigner signs with keys derived from an in-memory BIP-32 seed.
type SeedSigner struct {
	master *derivation.HDKey
}

// NewSeedSigner creates a signer from a raw seed.
func NewSeedSigner(seed []byte) (*SeedSigner, error) {
	master, err := derivation.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return &SeedSigner{master: master}, nil
}

// SignTransaction implements Signer. Every input must carry its BIP-32
// derivation; witness inputs must carry their previous output.
func (s *SeedSigner) SignTransaction(ctx context.Context, packet *psbt.Packet, dc txbuilder.DerivationContext) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SigningError{Input: -1, Err: err}
	}
	if s.master.Fingerprint() != dc.MasterFingerprint {
		return nil, &SigningError{Input: -1, Err: ErrWrongSeed}
	}
	info, err := currency.Lookup(dc.Currency, dc.Network)
	if err != nil {
		return nil, &SigningError{Input: -1, Err: err}
	}

	tx := packet.UnsignedTx.Copy()
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo != nil {
			prevOuts.AddPrevOut(tx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
		} else if dc.Mode.IsWitness() {
			return nil, &SigningError{Input: i, Err: errors.New("missing witness utxo")}
		}
	}
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	for i, in := range packet.Inputs {
		if err := s.signInput(tx, i, in, dc, info, sigHashes); err != nil {
			return nil, &SigningError{Input: i, Err: err}
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, &SigningError{Input: -1, Err: err}
	}
	return buf.Bytes(), nil
}

func (s *SeedSigner) signInput(tx *wire.MsgTx, i int, in psbt.PInput, dc txbuilder.DerivationContext, info *currency.Info, sigHashes *txscript.TxSigHashes) error {
	var (
		path    []uint32
		wantPub []byte
	)
	switch {
	case len(in.TaprootBip32Derivation) > 0:
		path = in.TaprootBip32Derivation[0].Bip32Path
		wantPub = in.TaprootBip32Derivation[0].XOnlyPubKey
	case len(in.Bip32Derivation) > 0:
		path = in.Bip32Derivation[0].Bip32Path
		wantPub = in.Bip32Derivation[0].PubKey
	default:
		return errors.New("missing key derivation")
	}

	key, err := s.master.DerivePath(path...)
	if err != nil {
		return err
	}
	priv, err := key.PrivateKey()
	if err != nil {
		return err
	}

	pub := priv.PubKey()
	havePub := pub.SerializeCompressed()
	if dc.Mode == derivation.Taproot {
		havePub = schnorr.SerializePubKey(pub)
	}
	if !bytes.Equal(havePub, wantPub) {
		return ErrWrongSeed
	}

	txIn := tx.TxIn[i]
	switch dc.Mode {
	case derivation.Legacy:
		addr, err := derivation.EncodeAddress(pub.SerializeCompressed(), dc.Mode, info.Params)
		if err != nil {
			return err
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return err
		}
		txIn.SignatureScript, err = txscript.SignatureScript(tx, i, pkScript, txscript.SigHashAll, priv, true)
		return err

	case derivation.NativeSegwit:
		txIn.Witness, err = txscript.WitnessSignature(tx, sigHashes, i, in.WitnessUtxo.Value, in.WitnessUtxo.PkScript, txscript.SigHashAll, priv, true)
		return err

	case derivation.WrappedSegwit:
		if len(in.RedeemScript) == 0 {
			return errors.New("missing redeem script")
		}
		txIn.Witness, err = txscript.WitnessSignature(tx, sigHashes, i, in.WitnessUtxo.Value, in.RedeemScript, txscript.SigHashAll, priv, true)
		if err != nil {
			return err
		}
		txIn.SignatureScript, err = txscript.NewScriptBuilder().AddData(in.RedeemScript).Script()
		return err

	case derivation.Taproot:
		txIn.Witness, err = txscript.TaprootWitnessSignature(tx, sigHashes, i, in.WitnessUtxo.Value, in.WitnessUtxo.PkScript, txscript.SigHashDefault, priv)
		return err
	}
	return fmt.Errorf("%w: mode %q", derivation.ErrUnsupported, dc.Mode)
}
