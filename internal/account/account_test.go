package account

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const (
	testMnemonic  = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testXpub      = "xpub6BosfCnifzxcFwrSzQiqu2DBVTshkCXacvNsWGYJVVhhawA7d4R5WSWGFNbi8Aw6ZRc1brxMyWMzG3DSSSSoekkudhUd9yLb6qx39T9nMdj"
	testFirstAddr = "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"
)

func testProvider(t testing.TB) derivation.KeyProvider {
	t.Helper()
	p, err := derivation.NewSeedKeyProvider(testMnemonic, "")
	require.NoError(t, err)
	return p
}

func newTestAccount(t testing.TB) *Account {
	t.Helper()
	a, err := Generate(context.Background(), GenerateConfig{
		KeyProvider: testProvider(t),
		Path:        "44'/0'",
		Index:       0,
		Currency:    currency.Bitcoin,
		Network:     currency.Mainnet,
		Mode:        derivation.Legacy,
		Explorer:    explorer.NewMemory(),
	})
	require.NoError(t, err)
	return a
}

func txid(n int) string {
	return fmt.Sprintf("%064x", n)
}

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

func outpoint(t tb, id string, vout uint32) wire.OutPoint {
	t.Helper()
	h, err := chainhash.NewHashFromStr(id)
	require.NoError(t, err)
	return *wire.NewOutPoint(h, vout)
}

func TestGenerate_KnownXpub(t *testing.T) {
	a := newTestAccount(t)

	x := a.Xpub()
	require.Equal(t, testXpub, x.Key)
	require.Equal(t, "m/44'/0'/0'", x.Path.Full())
	require.Equal(t, uint32(0x73c5da0a), x.MasterFingerprint)
	require.Equal(t, DefaultPolicy(), a.Policy())
	require.Equal(t, SyncIdle, a.SyncState())
	require.True(t, a.Cursor().IsZero())
	require.Zero(t, a.Balance())

	addr, err := a.AddressAt(derivation.External, 0)
	require.NoError(t, err)
	require.Equal(t, testFirstAddr, addr)
}

func TestGenerate_DerivationErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		cur     currency.ID
		network string
		mode    derivation.Mode
	}{
		{"purpose mismatch", "84'/0'", currency.Bitcoin, currency.Mainnet, derivation.Legacy},
		{"coin mismatch", "44'/1'", currency.Bitcoin, currency.Mainnet, derivation.Legacy},
		{"bad path", "44'/zero'", currency.Bitcoin, currency.Mainnet, derivation.Legacy},
		{"unknown currency", "44'/0'", "monero", currency.Mainnet, derivation.Legacy},
		{"no taproot on litecoin", "86'/2'", currency.Litecoin, currency.Mainnet, derivation.Taproot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(context.Background(), GenerateConfig{
				KeyProvider: testProvider(t),
				Path:        tt.path,
				Currency:    tt.cur,
				Network:     tt.network,
				Mode:        tt.mode,
			})
			var derr *derivation.Error
			require.ErrorAs(t, err, &derr)
			require.ErrorIs(t, err, derivation.ErrUnsupported)
		})
	}
}

type failingProvider struct{}

func (failingProvider) ExtendedPublicKey(context.Context, derivation.Path) (*derivation.HDKey, error) {
	return nil, errors.New("device unplugged")
}

func (failingProvider) MasterFingerprint(context.Context) (uint32, error) {
	return 0, errors.New("device unplugged")
}

func TestGenerate_ProviderFailure(t *testing.T) {
	_, err := Generate(context.Background(), GenerateConfig{
		KeyProvider: failingProvider{},
		Path:        "44'/0'",
		Currency:    currency.Bitcoin,
		Network:     currency.Mainnet,
		Mode:        derivation.Legacy,
	})
	require.ErrorContains(t, err, "device unplugged")
}

func TestFromXpub_MatchesGenerated(t *testing.T) {
	gen := newTestAccount(t)
	watch, err := FromXpub(testXpub, currency.Bitcoin, currency.Mainnet, derivation.Legacy, "", nil)
	require.NoError(t, err)

	require.Equal(t, gen.ID(), watch.ID())
	require.Equal(t, "m/44'/0'/0'", watch.Xpub().Path.Full())
	require.Zero(t, watch.Xpub().MasterFingerprint)

	for idx := uint32(0); idx < 3; idx++ {
		a, err := gen.AddressAt(derivation.Internal, idx)
		require.NoError(t, err)
		b, err := watch.AddressAt(derivation.Internal, idx)
		require.NoError(t, err)
		require.Equal(t, a, b)
	}

	_, err = FromXpub(testXpub, currency.Bitcoin, currency.Testnet, derivation.Legacy, "", nil)
	require.Error(t, err, "mainnet xpub on testnet")

	_, err = FromXpub(testXpub, currency.Bitcoin, currency.Mainnet, derivation.Legacy, "44'/0'", nil)
	require.Error(t, err, "depth mismatch")
}

func TestFreshAddress(t *testing.T) {
	a := newTestAccount(t)

	d, err := a.FreshAddress(derivation.External)
	require.NoError(t, err)
	require.Equal(t, DerivedAddress{Address: testFirstAddr, Chain: derivation.External, Index: 0}, d)

	// Pure: nothing recorded.
	require.Empty(t, a.Addresses(derivation.External))

	r1, err := a.NewReceiveAddress()
	require.NoError(t, err)
	r2, err := a.NewReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.Len(t, a.Addresses(derivation.External), 1)

	// Incoming activity moves the receive address forward.
	st := a.Snapshot()
	st.History = append(st.History, TxRecord{
		TxID:    txid(1),
		Outputs: []explorer.TxOutput{{Index: 0, Address: testFirstAddr, Value: 1000}},
	})
	require.NoError(t, a.Replace(st))
	require.True(t, a.IsUsed(testFirstAddr))

	r3, err := a.NewReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, uint32(1), r3.Index)
	require.NotEqual(t, testFirstAddr, r3.Address)

	change, err := a.FreshAddress(derivation.Internal)
	require.NoError(t, err)
	require.Equal(t, uint32(0), change.Index)

	_, err = a.FreshAddress(7)
	require.Error(t, err)
}

func TestReplace_RejectsForeignState(t *testing.T) {
	a := newTestAccount(t)
	d, err := a.NewReceiveAddress()
	require.NoError(t, err)

	good := a.Snapshot()
	good.UTXOs = []UTXO{{OutPoint: outpoint(t, txid(1), 0), Value: 5000, Address: d.Address, BlockHeight: 10}}
	good.Cursor = explorer.Cursor{Height: 12, Hash: "h12"}
	require.NoError(t, a.Replace(good))
	require.Equal(t, int64(5000), a.Balance())

	tests := []struct {
		name   string
		mutate func(st *State)
	}{
		{"utxo on unknown address", func(st *State) {
			st.UTXOs = append(st.UTXOs, UTXO{OutPoint: outpoint(t, txid(2), 0), Value: 1, Address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"})
		}},
		{"address not derived from xpub", func(st *State) {
			st.Addresses = append(st.Addresses, DerivedAddress{Address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", Chain: 0, Index: 5})
		}},
		{"invalid chain", func(st *State) {
			st.Addresses = append(st.Addresses, DerivedAddress{Address: d.Address, Chain: 3})
		}},
		{"zero value", func(st *State) {
			st.UTXOs[0].Value = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := a.Snapshot()
			tt.mutate(st)
			require.Error(t, a.Replace(st))

			require.Equal(t, int64(5000), a.Balance())
			require.Equal(t, explorer.Cursor{Height: 12, Hash: "h12"}, a.Cursor())
			require.Len(t, a.AllAddresses(), 1)
		})
	}
}

func TestBalanceDetail(t *testing.T) {
	a := newTestAccount(t)
	d0, _ := a.NewReceiveAddress()

	st := a.Snapshot()
	st.UTXOs = []UTXO{
		{OutPoint: outpoint(t, txid(1), 0), Value: 1000, Address: d0.Address, BlockHeight: 5},
		{OutPoint: outpoint(t, txid(2), 1), Value: 2000, Address: d0.Address},
		{OutPoint: outpoint(t, txid(3), 0), Value: 4000, Address: d0.Address, BlockHeight: 6, Spent: true},
	}
	require.NoError(t, a.Replace(st))

	require.Equal(t, Balance{Confirmed: 1000, Unconfirmed: 2000}, a.BalanceDetail())
	require.Equal(t, int64(3000), a.Balance())

	utxos := a.UTXOs()
	require.Len(t, utxos, 2)
	require.Equal(t, int64(5), utxos[0].BlockHeight, "confirmed first")
	require.Len(t, a.AllUTXOs(), 3)
}

func TestHistoryOrder(t *testing.T) {
	a := newTestAccount(t)
	st := a.Snapshot()
	st.History = []TxRecord{
		{TxID: txid(1), BlockHeight: 5},
		{TxID: txid(2), BlockHeight: 0},
		{TxID: txid(3), BlockHeight: 9},
	}
	require.NoError(t, a.Replace(st))

	h := a.History()
	require.Equal(t, []string{txid(2), txid(3), txid(1)}, []string{h[0].TxID, h[1].TxID, h[2].TxID})
}

func TestSetPolicy(t *testing.T) {
	a := newTestAccount(t)
	require.NoError(t, a.SetPolicy(Policy{MaxOutputValue: 60000, DustRelayFeePerKb: 1000}))
	require.Equal(t, int64(60000), a.Policy().MaxOutputValue)

	require.Error(t, a.SetPolicy(Policy{MaxOutputValue: 0}))
	require.Error(t, a.SetPolicy(Policy{MaxOutputValue: 1, DustRelayFeePerKb: -1}))
	require.Equal(t, int64(60000), a.Policy().MaxOutputValue)
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	for _, p := range []Policy{
		{MaxOutputValue: 0, DustRelayFeePerKb: 3000},
		{MaxOutputValue: -5, DustRelayFeePerKb: 1000},
		{MaxOutputValue: 60000, DustRelayFeePerKb: -1},
	} {
		_, err := Generate(context.Background(), GenerateConfig{
			KeyProvider: testProvider(t),
			Path:        "44'/0'",
			Currency:    currency.Bitcoin,
			Network:     currency.Mainnet,
			Mode:        derivation.Legacy,
			Policy:      &p,
		})
		require.Error(t, err, "policy %+v", p)
	}

	// The all-zero policy selects the defaults.
	a, err := New(Xpub{
		Key:      testXpub,
		Currency: currency.Bitcoin,
		Network:  currency.Mainnet,
		Mode:     derivation.Legacy,
		Path:     derivation.MustParsePath("m/44'/0'/0'"),
	})
	require.NoError(t, err)
	require.Equal(t, DefaultPolicy(), a.Policy())
}

func TestSyncEvents(t *testing.T) {
	a := newTestAccount(t)
	ctx := context.Background()

	require.Error(t, a.SyncEvent(ctx, EventReconcile), "reconcile from idle")

	require.NoError(t, a.SyncEvent(ctx, EventFetch))
	require.Equal(t, SyncFetching, a.SyncState())
	require.NoError(t, a.SyncEvent(ctx, EventReconcile))
	require.NoError(t, a.SyncEvent(ctx, EventDone))
	require.Equal(t, SyncIdle, a.SyncState())

	require.NoError(t, a.SyncEvent(ctx, EventFetch))
	require.NoError(t, a.SyncEvent(ctx, EventFail))
	require.Equal(t, SyncFailed, a.SyncState())
	require.Error(t, a.SyncEvent(ctx, EventFetch), "fetch from failed")
	require.NoError(t, a.SyncEvent(ctx, EventReset))
	require.Equal(t, SyncIdle, a.SyncState())
}
