package explorer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_FetchActivity(t *testing.T) {
	m := NewMemory()
	m.SetTip(120, "tip120")
	m.AddFunding("addr1", "f1", 1, 5000, 100)
	m.AddFunding("addr1", "f2", 0, 7000, 0)

	resp, err := m.FetchActivity(context.Background(), &Request{Addresses: []string{"addr1", "addr2"}})
	require.NoError(t, err)

	a1 := resp.Activity["addr1"]
	require.Len(t, a1.UTXOs, 2)
	require.Len(t, a1.Txs, 2)
	require.Equal(t, TxOutput{Index: 1, Address: "addr1", Value: 5000}, a1.Txs[0].Outputs[1])
	require.False(t, resp.Activity["addr2"].Used())

	m.Spend("addr1", "f1", 1, "s1", 121)
	resp, err = m.FetchActivity(context.Background(), &Request{Addresses: []string{"addr1"}})
	require.NoError(t, err)
	require.Len(t, resp.Activity["addr1"].UTXOs, 1)
	require.Len(t, resp.Activity["addr1"].Txs, 3)
}

func TestMemory_CursorFiltersOldHistory(t *testing.T) {
	m := NewMemory()
	m.AddFunding("addr1", "old", 0, 1000, 10)
	m.AddFunding("addr1", "new", 0, 1000, 99)

	resp, err := m.FetchActivity(context.Background(), &Request{
		Addresses: []string{"addr1"},
		Cursor:    Cursor{Height: 100, Hash: "h"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Activity["addr1"].Txs, 1)
	require.Equal(t, "new", resp.Activity["addr1"].Txs[0].TxID)
	require.Len(t, resp.Activity["addr1"].UTXOs, 2)
}

func TestMemory_FailureInjection(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")

	m.FailAfter(1, boom)
	_, err := m.Tip(context.Background())
	require.NoError(t, err)

	_, err = m.FetchActivity(context.Background(), &Request{})
	require.ErrorIs(t, err, boom)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, "fetch", eerr.Op)

	m.FailWith(nil)
	_, err = m.Tip(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, m.Calls())
}

func TestMemory_Broadcast(t *testing.T) {
	m := NewMemory()
	raw := []byte{0x02, 0x00, 0x00, 0x00}

	txid, err := m.Broadcast(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, txid, 64)

	raw[0] = 0xff
	require.Equal(t, [][]byte{{0x02, 0x00, 0x00, 0x00}}, m.Broadcasted())

	_, err = m.Broadcast(context.Background(), nil)
	require.Error(t, err)
}
