package txbuilder

import (
	"testing"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEstimateVSize(t *testing.T) {
	tests := []struct {
		name    string
		mode    derivation.Mode
		inputs  int
		scripts []int
		want    int64
	}{
		{"p2pkh 1-in 2-out", derivation.Legacy, 1, []int{25, 25}, 226},
		{"p2pkh 1-in 1-out", derivation.Legacy, 1, []int{25}, 192},
		{"p2wpkh 1-in 1-out", derivation.NativeSegwit, 1, []int{22}, 110},
		{"p2wpkh 1-in 2-out", derivation.NativeSegwit, 1, []int{22, 22}, 141},
		{"p2wpkh 2-in 1-out", derivation.NativeSegwit, 2, []int{22}, 178},
		{"p2sh-p2wpkh 1-in 1-out", derivation.WrappedSegwit, 1, []int{23}, 134},
		{"p2tr 1-in 1-out", derivation.Taproot, 1, []int{34}, 111},
		{"no inputs carry no witness", derivation.NativeSegwit, 0, []int{22}, 41},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, EstimateVSize(tt.mode, tt.inputs, tt.scripts))
		})
	}
}

func TestEstimateVSize_GrowsWithInputs(t *testing.T) {
	for _, mode := range derivation.Modes {
		prev := EstimateVSize(mode, 0, []int{pkScriptSize(mode)})
		for n := 1; n <= 300; n++ {
			cur := EstimateVSize(mode, n, []int{pkScriptSize(mode)})
			require.Greater(t, cur, prev, "mode %s n %d", mode, n)
			prev = cur
		}
	}
}

func TestSplitAmount(t *testing.T) {
	tests := []struct {
		amount, max int64
		want        []int64
	}{
		{100, 100, []int64{100}},
		{100, 1000, []int64{100}},
		{101, 100, []int64{51, 50}},
		{300, 100, []int64{100, 100, 100}},
		{50000, 20000, []int64{16667, 16667, 16666}},
	}
	for _, tt := range tests {
		got, err := SplitAmount(tt.amount, tt.max)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, "split %d by %d", tt.amount, tt.max)
	}

	_, err := SplitAmount(0, 10)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = SplitAmount(10, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = SplitAmount(MaxPaymentOutputs+1, 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSplitAmount_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.Int64Range(1, 1_000_000).Draw(t, "limit")
		amount := rapid.Int64Range(1, limit*MaxPaymentOutputs).Draw(t, "amount")

		values, err := SplitAmount(amount, limit)
		require.NoError(t, err)

		want := (amount + limit - 1) / limit
		require.Equal(t, want, int64(len(values)))

		var sum int64
		lo, hi := values[0], values[0]
		for _, v := range values {
			require.LessOrEqual(t, v, limit)
			require.Positive(t, v)
			sum += v
			lo, hi = min(lo, v), max(hi, v)
		}
		require.Equal(t, amount, sum)
		require.LessOrEqual(t, hi-lo, int64(1))
	})
}
