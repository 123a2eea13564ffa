package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func txid(n int) string {
	return fmt.Sprintf("%064x", n)
}

func setup(t *testing.T) (*account.Account, *explorer.Memory) {
	t.Helper()
	provider, err := derivation.NewSeedKeyProvider(testMnemonic, "")
	require.NoError(t, err)

	mem := explorer.NewMemory()
	mem.SetTip(100, "tip100")
	a, err := account.Generate(context.Background(), account.GenerateConfig{
		KeyProvider: provider,
		Path:        "84'/0'",
		Currency:    currency.Bitcoin,
		Network:     currency.Mainnet,
		Mode:        derivation.NativeSegwit,
		Explorer:    mem,
	})
	require.NoError(t, err)
	return a, mem
}

func addr(t *testing.T, a *account.Account, chain, idx uint32) string {
	t.Helper()
	s, err := a.AddressAt(chain, idx)
	require.NoError(t, err)
	return s
}

func TestSync_GapLimitScan(t *testing.T) {
	a, mem := setup(t)
	mem.AddFunding(addr(t, a, 0, 0), txid(1), 0, 100000, 90)
	mem.AddFunding(addr(t, a, 0, 15), txid(2), 1, 5000, 95)
	mem.AddFunding(addr(t, a, 0, 30), txid(3), 0, 4088, 0)
	mem.AddFunding(addr(t, a, 0, 60), txid(4), 0, 777, 99) // beyond the gap
	mem.AddFunding(addr(t, a, 1, 2), txid(5), 0, 3000, 98)

	e := New(Config{GapLimit: 20, BatchSize: 7})
	require.NoError(t, e.Sync(context.Background(), a))

	require.Equal(t, int64(100000+5000+4088+3000), a.Balance())
	require.Equal(t, account.Balance{Confirmed: 108000, Unconfirmed: 4088}, a.BalanceDetail())
	require.Equal(t, explorer.Cursor{Height: 100, Hash: "tip100"}, a.Cursor())
	require.Equal(t, account.SyncIdle, a.SyncState())

	var ext []uint32
	for _, d := range a.Addresses(derivation.External) {
		ext = append(ext, d.Index)
	}
	require.Equal(t, []uint32{0, 15, 30}, ext)
	require.Len(t, a.Addresses(derivation.Internal), 1)
	require.Len(t, a.History(), 4)

	for _, u := range a.UTXOs() {
		switch u.Value {
		case 100000:
			require.Equal(t, int64(11), u.Confirmations)
		case 4088:
			require.Zero(t, u.Confirmations)
		}
	}

	fresh, err := a.FreshAddress(derivation.External)
	require.NoError(t, err)
	require.Equal(t, uint32(1), fresh.Index)
}

func TestSync_RescanFindsSkippedAndLookaheadFunds(t *testing.T) {
	a, mem := setup(t)
	mem.AddFunding(addr(t, a, 0, 0), txid(1), 0, 100000, 90)
	mem.AddFunding(addr(t, a, 0, 15), txid(2), 0, 5000, 95)

	e := New(Config{GapLimit: 20, BatchSize: 7})
	require.NoError(t, e.Sync(context.Background(), a))
	require.Equal(t, int64(105000), a.Balance())

	// Index 3 was unused at the first sync and sits below the highest
	// known address; index 30 is inside the lookahead of index 15.
	mem.SetTip(101, "tip101")
	mem.AddFunding(addr(t, a, 0, 3), txid(3), 0, 7000, 101)
	mem.AddFunding(addr(t, a, 0, 30), txid(4), 0, 900, 0)
	mem.AddFunding(addr(t, a, 1, 4), txid(5), 1, 1100, 101)
	require.NoError(t, e.Sync(context.Background(), a))

	require.Equal(t, int64(100000+5000+7000+900+1100), a.Balance())

	var ext []uint32
	for _, d := range a.Addresses(derivation.External) {
		ext = append(ext, d.Index)
	}
	require.Equal(t, []uint32{0, 3, 15, 30}, ext)

	fresh, err := a.FreshAddress(derivation.External)
	require.NoError(t, err)
	require.Equal(t, uint32(1), fresh.Index)

	// A third sync with no new activity changes nothing.
	before := a.Snapshot()
	require.NoError(t, e.Sync(context.Background(), a))
	require.Equal(t, before, a.Snapshot())
}

func TestSync_Idempotent(t *testing.T) {
	a, mem := setup(t)
	mem.AddFunding(addr(t, a, 0, 0), txid(1), 0, 100000, 90)
	mem.AddFunding(addr(t, a, 0, 1), txid(2), 0, 2000, 0)

	e := New(Config{})
	require.NoError(t, e.Sync(context.Background(), a))
	first := a.Snapshot()

	require.NoError(t, e.Sync(context.Background(), a))
	require.Equal(t, first, a.Snapshot())
}

func TestSync_FailureLeavesAccountUntouched(t *testing.T) {
	a, mem := setup(t)
	mem.AddFunding(addr(t, a, 0, 0), txid(1), 0, 100000, 90)

	e := New(Config{})
	require.NoError(t, e.Sync(context.Background(), a))
	before := a.Snapshot()

	mem.SetTip(105, "tip105")
	mem.AddFunding(addr(t, a, 0, 1), txid(2), 0, 5000, 104)
	boom := errors.New("connection refused")
	mem.FailAfter(2, boom) // tip and one batch succeed, the next batch fails

	err := e.Sync(context.Background(), a)
	require.ErrorIs(t, err, boom)
	var eerr *explorer.Error
	require.ErrorAs(t, err, &eerr)

	require.Equal(t, before, a.Snapshot())
	require.Equal(t, int64(100000), a.Balance())
	require.Equal(t, account.SyncIdle, a.SyncState())

	mem.FailWith(nil)
	require.NoError(t, e.Sync(context.Background(), a))
	require.Equal(t, int64(105000), a.Balance())
	require.Equal(t, int64(105), a.Cursor().Height)
}

func TestSync_TipFailure(t *testing.T) {
	a, mem := setup(t)
	mem.FailWith(errors.New("timeout"))

	err := New(Config{}).Sync(context.Background(), a)
	var eerr *explorer.Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, "tip", eerr.Op)
	require.True(t, a.Cursor().IsZero())
}

func TestSync_SpendDetection(t *testing.T) {
	a, mem := setup(t)
	a0 := addr(t, a, 0, 0)
	mem.AddFunding(a0, txid(1), 0, 100000, 90)
	mem.AddFunding(a0, txid(2), 0, 3000, 91)

	e := New(Config{})
	require.NoError(t, e.Sync(context.Background(), a))

	mem.SetTip(101, "tip101")
	mem.Spend(a0, txid(1), 0, txid(9), 101)
	require.NoError(t, e.Sync(context.Background(), a))

	require.Equal(t, int64(3000), a.Balance())
	all := a.AllUTXOs()
	require.Len(t, all, 2)
	for _, u := range all {
		if u.Value == 100000 {
			require.True(t, u.Spent)
		}
	}
	require.Len(t, a.History(), 3)
}

func TestSync_UnconfirmedDropped(t *testing.T) {
	a, mem := setup(t)
	a0 := addr(t, a, 0, 0)
	mem.AddFunding(a0, txid(1), 0, 100000, 90)
	mem.AddFunding(a0, txid(2), 0, 7000, 0)

	e := New(Config{})
	require.NoError(t, e.Sync(context.Background(), a))
	require.Equal(t, int64(107000), a.Balance())

	// Evicted from the mempool.
	mem.RemoveUTXO(a0, txid(2), 0)
	mem.RemoveTx(a0, txid(2))
	require.NoError(t, e.Sync(context.Background(), a))

	require.Equal(t, int64(100000), a.Balance())
	require.Len(t, a.AllUTXOs(), 1)
	require.Len(t, a.History(), 1)
}

func TestSync_ConfirmedVanishedIsInconsistent(t *testing.T) {
	a, mem := setup(t)
	a0 := addr(t, a, 0, 0)
	mem.AddFunding(a0, txid(1), 0, 100000, 90)

	e := New(Config{})
	require.NoError(t, e.Sync(context.Background(), a))
	before := a.Snapshot()

	mem.RemoveUTXO(a0, txid(1), 0)
	err := e.Sync(context.Background(), a)
	require.ErrorIs(t, err, explorer.ErrInconsistent)
	var eerr *explorer.Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, a0, eerr.Address)

	require.Equal(t, before, a.Snapshot())
	require.Equal(t, account.SyncIdle, a.SyncState())
}

func TestSync_NoExplorer(t *testing.T) {
	a, _ := setup(t)
	a.SetExplorer(nil)

	err := New(Config{}).Sync(context.Background(), a)
	require.ErrorIs(t, err, ErrNoExplorer)
	require.Equal(t, account.SyncIdle, a.SyncState())
}

func TestSync_Cancelled(t *testing.T) {
	a, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(Config{}).Sync(ctx, a)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, account.SyncIdle, a.SyncState())
}
