// Package txbuilder turns a payment request into an unsigned transaction
// funded from an account's UTXOs.
package txbuilder

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/Klingon-tech/klingwallet/internal/picking"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Builder errors.
var (
	ErrInvalidAddress = errors.New("invalid destination address")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidFeeRate = errors.New("invalid fee rate")
	ErrNoAccount      = errors.New("no source account")
)

// MaxFeePerByte rejects fee rates that are almost certainly a unit mistake.
const MaxFeePerByte = 100_000

// TxVersion is the version of built transactions.
const TxVersion = 2

// Params describes a payment.
type Params struct {
	FromAccount *account.Account
	Dest        string
	Amount      int64
	FeePerByte  int64
	// Strategy picks the inputs. Nil means merge.
	Strategy picking.Strategy
}

// Build assembles an unsigned transaction paying Amount to Dest. The
// account is read but never modified.
func Build(p Params) (info *TransactionInfo, err error) {
	strategy := p.Strategy
	if strategy == nil {
		strategy = &picking.Merge{}
	}

	metrics.Init()
	defer func() {
		metrics.BuildTotal.WithLabelValues(strategy.Name(), metrics.Result(err)).Inc()
		if info != nil {
			metrics.BuildInputs.Observe(float64(len(info.inputs)))
		}
	}()

	a := p.FromAccount
	if a == nil {
		return nil, ErrNoAccount
	}
	if p.Amount <= 0 || p.Amount > btcutil.MaxSatoshi {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, p.Amount)
	}
	if p.FeePerByte <= 0 || p.FeePerByte > MaxFeePerByte {
		return nil, fmt.Errorf("%w: %d per byte", ErrInvalidFeeRate, p.FeePerByte)
	}

	params := a.Currency().Params
	dest, err := derivation.DecodeAddress(p.Dest, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	policy := a.Policy()
	values, err := SplitAmount(p.Amount, policy.MaxOutputValue)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if isDust(v, len(destScript), policy.DustRelayFeePerKb) {
			return nil, fmt.Errorf("%w: output of %d is dust", ErrInvalidAmount, v)
		}
	}

	mode := a.Mode()
	scriptSizes := make([]int, len(values))
	for i := range scriptSizes {
		scriptSizes[i] = len(destScript)
	}
	feeFor := func(n int) int64 {
		return EstimateVSize(mode, n, scriptSizes) * p.FeePerByte
	}

	sel, err := strategy.SelectUtxos(a.UTXOs(), p.Amount, feeFor)
	if err != nil {
		return nil, err
	}

	change, err := a.FreshAddress(derivation.Internal)
	if err != nil {
		return nil, err
	}
	changeScript, err := derivation.PkScript(change.Address, params)
	if err != nil {
		return nil, err
	}
	changePub, err := a.PublicKey(change.Chain, change.Index)
	if err != nil {
		return nil, err
	}
	changeRedeem, err := derivation.RedeemScript(changePub, mode, params)
	if err != nil {
		return nil, err
	}

	withChange := append(append([]int(nil), scriptSizes...), len(changeScript))
	vsize := EstimateVSize(mode, len(sel.Inputs), withChange)
	fee := vsize * p.FeePerByte
	changeValue := sel.Total - p.Amount - fee

	// Change dust is judged at the payment fee rate.
	changeRelay := max(policy.DustRelayFeePerKb, p.FeePerByte*1000)
	hasChange := changeValue > 0 && !isDust(changeValue, len(changeScript), changeRelay)
	if !hasChange {
		vsize = EstimateVSize(mode, len(sel.Inputs), scriptSizes)
		fee = sel.Total - p.Amount
	}

	info = &TransactionInfo{
		fee:      fee,
		vsize:    vsize,
		feeRate:  p.FeePerByte,
		strategy: strategy.Name(),
		derivation: DerivationContext{
			AccountPath:       a.Xpub().Path,
			MasterFingerprint: a.Xpub().MasterFingerprint,
			Mode:              mode,
			Xpub:              a.Xpub().Key,
			Currency:          a.Currency().ID,
			Network:           a.Currency().Network,
		},
	}

	for _, u := range sel.Inputs {
		in, err := newInput(a, u)
		if err != nil {
			return nil, err
		}
		info.inputs = append(info.inputs, in)
	}
	for _, v := range values {
		info.outputs = append(info.outputs, Output{
			Address:  dest.EncodeAddress(),
			Value:    v,
			PkScript: destScript,
		})
	}
	if hasChange {
		info.outputs = append(info.outputs, Output{
			Address:      change.Address,
			Value:        changeValue,
			PkScript:     changeScript,
			Change:       true,
			Chain:        change.Chain,
			Index:        change.Index,
			PubKey:       changePub,
			RedeemScript: changeRedeem,
		})
	}
	info.tx = info.buildTx()

	log.Builder.Debug().
		Str("account", a.ID()).
		Str("strategy", strategy.Name()).
		Int("inputs", len(info.inputs)).
		Int("outputs", len(info.outputs)).
		Int64("fee", fee).
		Int64("vsize", vsize).
		Bool("change", hasChange).
		Msg("Transaction built")

	return info, nil
}

func newInput(a *account.Account, u account.UTXO) (Input, error) {
	owner, ok := a.Owner(u.Address)
	if !ok {
		return Input{}, fmt.Errorf("input %s: %w", u.Key(), account.ErrNotOwned)
	}
	pub, err := a.PublicKey(owner.Chain, owner.Index)
	if err != nil {
		return Input{}, fmt.Errorf("input %s: %w", u.Key(), err)
	}
	params := a.Currency().Params
	pkScript, err := derivation.PkScript(u.Address, params)
	if err != nil {
		return Input{}, fmt.Errorf("input %s: %w", u.Key(), err)
	}
	redeem, err := derivation.RedeemScript(pub, a.Mode(), params)
	if err != nil {
		return Input{}, fmt.Errorf("input %s: %w", u.Key(), err)
	}
	return Input{
		UTXO:         u,
		Chain:        owner.Chain,
		Index:        owner.Index,
		PubKey:       pub,
		PkScript:     pkScript,
		RedeemScript: redeem,
	}, nil
}

func (t *TransactionInfo) buildTx() *wire.MsgTx {
	tx := wire.NewMsgTx(TxVersion)
	for _, in := range t.inputs {
		op := in.UTXO.OutPoint
		txIn := wire.NewTxIn(&op, nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2
		tx.AddTxIn(txIn)
	}
	for _, out := range t.outputs {
		tx.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
	}
	return tx
}
