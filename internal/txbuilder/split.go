package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

// MaxPaymentOutputs bounds how many outputs a split payment may produce.
const MaxPaymentOutputs = 1000

// SplitAmount divides amount into the fewest outputs of at most limit each.
// Values differ by at most one unit; earlier outputs take the remainder.
func SplitAmount(amount, limit int64) ([]int64, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: max output value %d", ErrInvalidAmount, limit)
	}

	n := amount / limit
	if amount%limit != 0 {
		n++
	}
	if n > MaxPaymentOutputs {
		return nil, fmt.Errorf("%w: %d needs %d outputs of at most %d", ErrInvalidAmount, amount, n, limit)
	}

	base, rem := amount/n, amount%n
	values := make([]int64, n)
	for i := range values {
		values[i] = base
		if int64(i) < rem {
			values[i]++
		}
	}
	return values, nil
}

// isDust reports whether an output of value paying to a script of
// scriptSize bytes is uneconomical at relayFeePerKb.
func isDust(value int64, scriptSize int, relayFeePerKb int64) bool {
	return txrules.IsDustAmount(btcutil.Amount(value), scriptSize, btcutil.Amount(relayFeePerKb))
}
