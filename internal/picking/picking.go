// Package picking implements the UTXO selection strategies used by the
// transaction builder.
package picking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Klingon-tech/klingwallet/internal/account"
)

// Selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoUTXOs           = fmt.Errorf("%w: no spendable UTXOs", ErrInsufficientFunds)
	ErrUnknownStrategy   = errors.New("unknown picking strategy")
)

// Strategy names.
const (
	NameMerge        = "merge"
	NameDeepFirst    = "deep_first"
	NameCoinAtTheEnd = "coin_at_the_end"
	NameLeastChange  = "least_change"
)

// FeeFunc returns the fee of the transaction being built when it has
// numInputs inputs and no change output.
type FeeFunc func(numInputs int) int64

// Selection holds the result of coin selection.
type Selection struct {
	Inputs []account.UTXO // Selected UTXOs, in spending order.
	Total  int64          // Sum of selected input values.
	Fee    int64          // feeFor(len(Inputs)).
}

// Excess returns Total - target - Fee, the amount available for change.
func (s *Selection) Excess(target int64) int64 {
	return s.Total - target - s.Fee
}

// Strategy picks UTXOs to fund a payment of target plus fees.
// Implementations are pure and deterministic for a given input.
type Strategy interface {
	Name() string
	SelectUtxos(utxos []account.UTXO, target int64, feeFor FeeFunc) (*Selection, error)
}

// Names lists the registered strategies.
func Names() []string {
	return []string{NameMerge, NameDeepFirst, NameCoinAtTheEnd, NameLeastChange}
}

// New returns the named strategy. Outpoints in excluded ("txid:vout") are
// never selected.
func New(name string, excluded ...string) (Strategy, error) {
	f := newFilter(excluded)
	switch strings.ToLower(name) {
	case NameMerge, "":
		return &Merge{filter: f}, nil
	case NameDeepFirst:
		return &DeepFirst{filter: f}, nil
	case NameCoinAtTheEnd:
		return &CoinAtTheEnd{filter: f}, nil
	case NameLeastChange:
		return &LeastChange{filter: f}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

type filter struct {
	excluded map[string]struct{}
}

func newFilter(excluded []string) filter {
	f := filter{excluded: make(map[string]struct{}, len(excluded))}
	for _, k := range excluded {
		f.excluded[k] = struct{}{}
	}
	return f
}

// candidates drops spent and excluded UTXOs and those whose value does not
// cover the fee of spending them.
func (f filter) candidates(utxos []account.UTXO, target int64, feeFor FeeFunc) ([]account.UTXO, error) {
	if target <= 0 {
		return nil, fmt.Errorf("target must be positive, got %d", target)
	}
	marginal := feeFor(1) - feeFor(0)

	out := make([]account.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Spent || u.Value <= marginal {
			continue
		}
		if _, ok := f.excluded[u.Key()]; ok {
			continue
		}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, ErrNoUTXOs
	}
	return out, nil
}

// accumulate takes UTXOs in order until they cover target plus the fee.
func accumulate(ordered []account.UTXO, target int64, feeFor FeeFunc) (*Selection, error) {
	sel := &Selection{}
	for _, u := range ordered {
		sel.Inputs = append(sel.Inputs, u)
		sel.Total += u.Value
		sel.Fee = feeFor(len(sel.Inputs))
		if sel.Total >= target+sel.Fee {
			return sel, nil
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, sel.Total, target+feeFor(len(ordered)))
}

// olderFirst orders confirmed outputs by height, unconfirmed last.
func olderFirst(a, b *account.UTXO) (less, decided bool) {
	if a.BlockHeight == b.BlockHeight {
		return false, false
	}
	if a.BlockHeight == 0 {
		return false, true
	}
	if b.BlockHeight == 0 {
		return true, true
	}
	return a.BlockHeight < b.BlockHeight, true
}

// Merge spends the smallest outputs first, older before newer, to
// consolidate dust-sized coins. It is the reference strategy.
type Merge struct{ filter }

// Name implements Strategy.
func (*Merge) Name() string { return NameMerge }

// SelectUtxos implements Strategy.
func (m *Merge) SelectUtxos(utxos []account.UTXO, target int64, feeFor FeeFunc) (*Selection, error) {
	c, err := m.candidates(utxos, target, feeFor)
	if err != nil {
		return nil, err
	}
	sort.Slice(c, func(i, j int) bool {
		if c[i].Value != c[j].Value {
			return c[i].Value < c[j].Value
		}
		if less, ok := olderFirst(&c[i], &c[j]); ok {
			return less
		}
		return c[i].Key() < c[j].Key()
	})
	return accumulate(c, target, feeFor)
}

// DeepFirst spends the most confirmed outputs first.
type DeepFirst struct{ filter }

// Name implements Strategy.
func (*DeepFirst) Name() string { return NameDeepFirst }

// SelectUtxos implements Strategy.
func (d *DeepFirst) SelectUtxos(utxos []account.UTXO, target int64, feeFor FeeFunc) (*Selection, error) {
	c, err := d.candidates(utxos, target, feeFor)
	if err != nil {
		return nil, err
	}
	sort.Slice(c, func(i, j int) bool {
		if less, ok := olderFirst(&c[i], &c[j]); ok {
			return less
		}
		if c[i].Value != c[j].Value {
			return c[i].Value > c[j].Value
		}
		return c[i].Key() < c[j].Key()
	})
	return accumulate(c, target, feeFor)
}

// CoinAtTheEnd spends the largest outputs first, minimizing input count.
type CoinAtTheEnd struct{ filter }

// Name implements Strategy.
func (*CoinAtTheEnd) Name() string { return NameCoinAtTheEnd }

// SelectUtxos implements Strategy.
func (s *CoinAtTheEnd) SelectUtxos(utxos []account.UTXO, target int64, feeFor FeeFunc) (*Selection, error) {
	c, err := s.candidates(utxos, target, feeFor)
	if err != nil {
		return nil, err
	}
	sortLargestFirst(c)
	return accumulate(c, target, feeFor)
}

func sortLargestFirst(c []account.UTXO) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Value != c[j].Value {
			return c[i].Value > c[j].Value
		}
		if less, ok := olderFirst(&c[i], &c[j]); ok {
			return less
		}
		return c[i].Key() < c[j].Key()
	})
}

// LeastChange tries two selections and returns the one leaving the least
// change:
//  1. Single UTXO: the smallest one that covers target plus fee.
//  2. Largest-first accumulation.
//
// On a tie the single UTXO wins.
type LeastChange struct{ filter }

// Name implements Strategy.
func (*LeastChange) Name() string { return NameLeastChange }

// SelectUtxos implements Strategy.
func (l *LeastChange) SelectUtxos(utxos []account.UTXO, target int64, feeFor FeeFunc) (*Selection, error) {
	c, err := l.candidates(utxos, target, feeFor)
	if err != nil {
		return nil, err
	}
	sortLargestFirst(c)

	// Strategy 1: walk from the smallest up; first match is the smallest.
	var single *Selection
	fee1 := feeFor(1)
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Value >= target+fee1 {
			single = &Selection{Inputs: []account.UTXO{c[i]}, Total: c[i].Value, Fee: fee1}
			break
		}
	}

	// Strategy 2: largest-first accumulation.
	accum, accumErr := accumulate(c, target, feeFor)

	switch {
	case single != nil && accum != nil:
		if single.Excess(target) <= accum.Excess(target) {
			return single, nil
		}
		return accum, nil
	case single != nil:
		return single, nil
	case accum != nil:
		return accum, nil
	default:
		return nil, accumErr
	}
}
