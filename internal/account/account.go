package account

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/pkg/crypto"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
	"github.com/looplab/fsm"
)

// ErrNotOwned is returned when a UTXO or address does not belong to the account.
var ErrNotOwned = errors.New("not owned by account")

// addressScanLimit bounds the search for an unused address.
const addressScanLimit = 1 << 20

// Account is the wallet state of one HD account.
//
// Account is not safe for concurrent use. Callers serialize every operation
// through Lock and Unlock; the wallet facade does this for its operations.
type Account struct {
	mu sync.Mutex

	xpub    Xpub
	info    *currency.Info
	deriver *derivation.Deriver

	addresses [2]map[uint32]string // chain -> index -> address
	owners    map[string]DerivedAddress
	utxos     map[string]map[string]UTXO // address -> outpoint -> utxo
	history   map[string]TxRecord
	cursor    explorer.Cursor

	sync *fsm.FSM
}

// New builds an empty account from an extended public key.
func New(x Xpub) (*Account, error) {
	info, err := currency.Lookup(x.Currency, x.Network)
	if err != nil {
		return nil, &derivation.Error{
			Path:     x.Path.String(),
			Mode:     x.Mode,
			Currency: string(x.Currency) + "/" + x.Network,
			Reason:   err.Error(),
		}
	}
	if len(x.Path) < 2 {
		return nil, &derivation.Error{Path: x.Path.String(), Mode: x.Mode, Currency: info.String(), Reason: "account path too short"}
	}
	if err := derivation.Validate(info, x.Mode, x.Path[:2]); err != nil {
		return nil, err
	}

	key, err := derivation.ParseXpub(x.Key, info.XpubVersion())
	if err != nil {
		return nil, err
	}
	if int(key.Depth()) != len(x.Path) {
		return nil, fmt.Errorf("xpub depth %d does not match path %s", key.Depth(), x.Path.Full())
	}
	deriver, err := derivation.NewDeriver(key, x.Mode, info.Params)
	if err != nil {
		return nil, err
	}

	if x.Policy == (Policy{}) {
		x.Policy = DefaultPolicy()
	}
	if err := x.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("account policy: %w", err)
	}
	x.Path = append(derivation.Path(nil), x.Path...)

	a := &Account{
		xpub:    x,
		info:    info,
		deriver: deriver,
		sync:    newSyncFSM(),
	}
	a.reset()
	return a, nil
}

func (a *Account) reset() {
	a.addresses = [2]map[uint32]string{{}, {}}
	a.owners = make(map[string]DerivedAddress)
	a.utxos = make(map[string]map[string]UTXO)
	a.history = make(map[string]TxRecord)
	a.cursor = explorer.Cursor{}
}

// Lock acquires the account's single-writer guard.
func (a *Account) Lock() { a.mu.Lock() }

// Unlock releases the guard.
func (a *Account) Unlock() { a.mu.Unlock() }

// ID returns a stable identifier for the account.
func (a *Account) ID() string {
	return crypto.AccountID(a.xpub.Key, string(a.xpub.Currency), a.xpub.Network, string(a.xpub.Mode))
}

// Xpub returns a copy of the account's key description.
func (a *Account) Xpub() Xpub {
	x := a.xpub
	x.Path = append(derivation.Path(nil), a.xpub.Path...)
	return x
}

// Currency returns the account's currency parameters.
func (a *Account) Currency() *currency.Info { return a.info }

// Mode returns the derivation mode.
func (a *Account) Mode() derivation.Mode { return a.xpub.Mode }

// Explorer returns the account's chain data source.
func (a *Account) Explorer() explorer.Explorer { return a.xpub.Explorer }

// SetExplorer swaps the chain data source.
func (a *Account) SetExplorer(ex explorer.Explorer) { a.xpub.Explorer = ex }

// Policy returns the transaction policy.
func (a *Account) Policy() Policy { return a.xpub.Policy }

// SetPolicy replaces the transaction policy.
func (a *Account) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	a.xpub.Policy = p
	return nil
}

// Cursor returns the chain tip at the last successful sync.
func (a *Account) Cursor() explorer.Cursor { return a.cursor }

// AddressAt returns the address at (chain, index), deriving it when unknown.
func (a *Account) AddressAt(chain, index uint32) (string, error) {
	if chain <= derivation.Internal {
		if addr, ok := a.addresses[chain][index]; ok {
			return addr, nil
		}
	}
	return a.deriver.Address(chain, index)
}

// PublicKey returns the compressed public key at (chain, index).
func (a *Account) PublicKey(chain, index uint32) ([]byte, error) {
	key, err := a.deriver.Key(chain, index)
	if err != nil {
		return nil, err
	}
	return key.PublicKeyBytes(), nil
}

// Owner returns the derivation position of a known address.
func (a *Account) Owner(address string) (DerivedAddress, bool) {
	d, ok := a.owners[address]
	return d, ok
}

// Addresses returns the known addresses of a chain ordered by index.
func (a *Account) Addresses(chain uint32) []DerivedAddress {
	if chain > derivation.Internal {
		return nil
	}
	out := make([]DerivedAddress, 0, len(a.addresses[chain]))
	for idx, addr := range a.addresses[chain] {
		out = append(out, DerivedAddress{Address: addr, Chain: chain, Index: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// AllAddresses returns the known addresses of both chains.
func (a *Account) AllAddresses() []DerivedAddress {
	return append(a.Addresses(derivation.External), a.Addresses(derivation.Internal)...)
}

// UTXOs returns the unspent outputs, oldest block first, then by outpoint.
func (a *Account) UTXOs() []UTXO {
	return a.collectUTXOs(false)
}

// AllUTXOs returns every tracked output including those marked spent.
func (a *Account) AllUTXOs() []UTXO {
	return a.collectUTXOs(true)
}

func (a *Account) collectUTXOs(withSpent bool) []UTXO {
	var out []UTXO
	for _, set := range a.utxos {
		for _, u := range set {
			if u.Spent && !withSpent {
				continue
			}
			out = append(out, u)
		}
	}
	SortUTXOs(out)
	return out
}

// SortUTXOs orders outputs by confirmation (confirmed oldest first,
// unconfirmed last) and then by outpoint.
func SortUTXOs(utxos []UTXO) {
	sort.Slice(utxos, func(i, j int) bool {
		hi, hj := utxos[i].BlockHeight, utxos[j].BlockHeight
		if hi != hj {
			if hi == 0 {
				return false
			}
			if hj == 0 {
				return true
			}
			return hi < hj
		}
		return utxos[i].Key() < utxos[j].Key()
	})
}

// Balance returns the sum of unspent output values.
func (a *Account) Balance() int64 {
	return a.BalanceDetail().Total()
}

// BalanceDetail splits the balance into confirmed and unconfirmed parts.
func (a *Account) BalanceDetail() Balance {
	var b Balance
	for _, set := range a.utxos {
		for _, u := range set {
			if u.Spent {
				continue
			}
			if u.Confirmed() {
				b.Confirmed += u.Value
			} else {
				b.Unconfirmed += u.Value
			}
		}
	}
	return b
}

// History returns the transaction history, newest first with unconfirmed
// transactions on top.
func (a *Account) History() []TxRecord {
	out := make([]TxRecord, 0, len(a.history))
	for _, tx := range a.history {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].BlockHeight, out[j].BlockHeight
		if hi != hj {
			if hi == 0 {
				return true
			}
			if hj == 0 {
				return false
			}
			return hi > hj
		}
		return out[i].TxID < out[j].TxID
	})
	return out
}

// usedAddresses returns every address seen in history or holding outputs.
func (a *Account) usedAddresses() map[string]struct{} {
	used := make(map[string]struct{})
	for _, tx := range a.history {
		for _, in := range tx.Inputs {
			if in.Address != "" {
				used[in.Address] = struct{}{}
			}
		}
		for _, out := range tx.Outputs {
			if out.Address != "" {
				used[out.Address] = struct{}{}
			}
		}
	}
	for addr, set := range a.utxos {
		if len(set) > 0 {
			used[addr] = struct{}{}
		}
	}
	return used
}

// IsUsed reports whether an address has observed activity.
func (a *Account) IsUsed(address string) bool {
	_, ok := a.usedAddresses()[address]
	return ok
}

// FreshAddress returns the lowest-index address of a chain with no observed
// activity. It does not modify the account.
func (a *Account) FreshAddress(chain uint32) (DerivedAddress, error) {
	if chain > derivation.Internal {
		return DerivedAddress{}, fmt.Errorf("invalid chain %d", chain)
	}
	used := a.usedAddresses()
	for idx := uint32(0); idx < addressScanLimit; idx++ {
		addr, err := a.AddressAt(chain, idx)
		if err != nil {
			return DerivedAddress{}, err
		}
		if _, ok := used[addr]; !ok {
			return DerivedAddress{Address: addr, Chain: chain, Index: idx}, nil
		}
	}
	return DerivedAddress{}, fmt.Errorf("no unused address below index %d", addressScanLimit)
}

// NewReceiveAddress returns the fresh external address and records it in
// the account's address set.
func (a *Account) NewReceiveAddress() (DerivedAddress, error) {
	d, err := a.FreshAddress(derivation.External)
	if err != nil {
		return DerivedAddress{}, err
	}
	a.addAddress(d)
	return d, nil
}

func (a *Account) addAddress(d DerivedAddress) {
	a.addresses[d.Chain][d.Index] = d.Address
	a.owners[d.Address] = d
}

// Snapshot returns a deep copy of the mutable state.
func (a *Account) Snapshot() *State {
	st := &State{
		Addresses: a.AllAddresses(),
		UTXOs:     a.AllUTXOs(),
		History:   make([]TxRecord, 0, len(a.history)),
		Cursor:    a.cursor,
	}
	for _, tx := range a.History() {
		st.History = append(st.History, copyTx(tx))
	}
	return st
}

// Replace validates a staged state and swaps it in as one step. On error
// the account is unchanged.
func (a *Account) Replace(st *State) error {
	addresses := [2]map[uint32]string{{}, {}}
	owners := make(map[string]DerivedAddress, len(st.Addresses))
	for _, d := range st.Addresses {
		if d.Chain > derivation.Internal {
			return fmt.Errorf("address %s: invalid chain %d", d.Address, d.Chain)
		}
		want, err := a.AddressAt(d.Chain, d.Index)
		if err != nil {
			return err
		}
		if want != d.Address {
			return fmt.Errorf("address %s at %d/%d: %w", d.Address, d.Chain, d.Index, ErrNotOwned)
		}
		addresses[d.Chain][d.Index] = d.Address
		owners[d.Address] = d
	}

	utxos := make(map[string]map[string]UTXO)
	for _, u := range st.UTXOs {
		if _, ok := owners[u.Address]; !ok {
			return fmt.Errorf("utxo %s at %s: %w", u.Key(), u.Address, ErrNotOwned)
		}
		if u.Value <= 0 {
			return fmt.Errorf("utxo %s has non-positive value %d", u.Key(), u.Value)
		}
		if utxos[u.Address] == nil {
			utxos[u.Address] = make(map[string]UTXO)
		}
		utxos[u.Address][u.Key()] = u
	}

	history := make(map[string]TxRecord, len(st.History))
	for _, tx := range st.History {
		history[tx.TxID] = copyTx(tx)
	}

	a.addresses = addresses
	a.owners = owners
	a.utxos = utxos
	a.history = history
	a.cursor = st.Cursor
	return nil
}

func copyTx(tx TxRecord) TxRecord {
	tx.Inputs = append([]explorer.TxInput(nil), tx.Inputs...)
	tx.Outputs = append([]explorer.TxOutput(nil), tx.Outputs...)
	return tx
}
