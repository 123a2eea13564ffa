package wallet

import (
	"context"
	"math"
	"sort"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/internal/syncer"
)

// MinFeePerByte is the lowest rate EstimateFeePerByte returns.
const MinFeePerByte = 1

// EstimateFees returns the explorer's fee rates per confirmation target.
func (w *Wallet) EstimateFees(ctx context.Context, a *account.Account) (explorer.FeeEstimates, error) {
	a.Lock()
	ex := a.Explorer()
	a.Unlock()
	if ex == nil {
		return nil, &explorer.Error{Op: "fee estimates", Err: syncer.ErrNoExplorer}
	}
	return ex.FeeEstimates(ctx)
}

// EstimateFeePerByte returns a whole fee rate for confirmation within
// target blocks.
func (w *Wallet) EstimateFeePerByte(ctx context.Context, a *account.Account, target int) (int64, error) {
	est, err := w.EstimateFees(ctx, a)
	if err != nil {
		return 0, err
	}
	return FeeRateFor(est, target), nil
}

// FeeRateFor picks the rate of the largest target not above the requested
// one, or of the fastest target when all are slower. Rates are rounded up.
// It returns MinFeePerByte when est is empty.
func FeeRateFor(est explorer.FeeEstimates, target int) int64 {
	if len(est) == 0 {
		return MinFeePerByte
	}
	targets := make([]int, 0, len(est))
	for t := range est {
		targets = append(targets, t)
	}
	sort.Ints(targets)

	chosen := targets[0]
	for _, t := range targets {
		if t > target {
			break
		}
		chosen = t
	}
	rate := int64(math.Ceil(est[chosen]))
	return max(rate, MinFeePerByte)
}
