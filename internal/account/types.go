// Package account holds the wallet-side view of one HD account: its
// addresses, UTXOs, history and sync cursor.
package account

import (
	"fmt"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

// DefaultDustRelayFeePerKb is the relay fee the dust threshold is computed
// at. At this rate a P2PKH output below 546 units is dust.
const DefaultDustRelayFeePerKb = int64(txrules.DefaultRelayFeePerKb)

// Policy holds the account's tunable transaction policy.
type Policy struct {
	// MaxOutputValue caps a single payment output; larger amounts are split.
	MaxOutputValue int64 `json:"max_output_value"`
	// DustRelayFeePerKb is the minimum relay fee (sat/kB) used for the dust rule.
	DustRelayFeePerKb int64 `json:"dust_relay_fee_per_kb"`
}

// Validate checks that the policy can be used to build transactions.
func (p Policy) Validate() error {
	if p.MaxOutputValue <= 0 {
		return fmt.Errorf("max output value must be positive, got %d", p.MaxOutputValue)
	}
	if p.DustRelayFeePerKb < 0 {
		return fmt.Errorf("dust relay fee must not be negative, got %d", p.DustRelayFeePerKb)
	}
	return nil
}

// DefaultPolicy returns the policy new accounts start with.
func DefaultPolicy() Policy {
	return Policy{
		MaxOutputValue:    btcutil.MaxSatoshi,
		DustRelayFeePerKb: DefaultDustRelayFeePerKb,
	}
}

// Xpub describes the extended public key an account is built from.
type Xpub struct {
	Key               string // base58
	Currency          currency.ID
	Network           string
	Mode              derivation.Mode
	Path              derivation.Path // m/purpose'/coin'/index'
	MasterFingerprint uint32
	Policy            Policy

	// Explorer serves the account's chain data. Not persisted.
	Explorer explorer.Explorer
}

// UTXO is an output owned by one of the account's addresses.
type UTXO struct {
	OutPoint      wire.OutPoint
	Value         int64
	Address       string
	BlockHeight   int64 // 0 while unconfirmed
	Confirmations int64
	Spent         bool
}

// Key returns the "txid:vout" identity of the output.
func (u *UTXO) Key() string {
	return u.OutPoint.String()
}

// Confirmed reports whether the output is in a block.
func (u *UTXO) Confirmed() bool {
	return u.BlockHeight > 0
}

// TxRecord is a transaction in the account history.
type TxRecord = explorer.Tx

// DerivedAddress is an address with its position under the account key.
type DerivedAddress struct {
	Address string `json:"address"`
	Chain   uint32 `json:"chain"`
	Index   uint32 `json:"index"`
}

// Balance splits the spendable amount by confirmation status.
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
}

// Total returns the confirmed plus unconfirmed amount.
func (b Balance) Total() int64 {
	return b.Confirmed + b.Unconfirmed
}

// State is a full snapshot of the mutable part of an account. The sync
// engine stages a new State and commits it with Account.Replace.
type State struct {
	Addresses []DerivedAddress
	UTXOs     []UTXO
	History   []TxRecord
	Cursor    explorer.Cursor
}
