package derivation

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingwallet/pkg/currency"
)

func TestValidate(t *testing.T) {
	btc := currency.MustLookup(currency.Bitcoin, currency.Mainnet)
	btcTest := currency.MustLookup(currency.Bitcoin, currency.Testnet)
	ltc := currency.MustLookup(currency.Litecoin, currency.Mainnet)
	doge := currency.MustLookup(currency.Dogecoin, currency.Mainnet)

	tests := []struct {
		name string
		info *currency.Info
		mode Mode
		path string
		ok   bool
	}{
		{"bitcoin legacy", btc, Legacy, "44'/0'", true},
		{"bitcoin segwit", btc, WrappedSegwit, "49'/0'", true},
		{"bitcoin native", btc, NativeSegwit, "84'/0'", true},
		{"bitcoin taproot", btc, Taproot, "86'/0'", true},
		{"bitcoin testnet", btcTest, NativeSegwit, "84'/1'", true},
		{"litecoin native", ltc, NativeSegwit, "84'/2'", true},
		{"litecoin taproot", ltc, Taproot, "86'/2'", false},
		{"dogecoin legacy", doge, Legacy, "44'/3'", true},
		{"dogecoin segwit", doge, NativeSegwit, "84'/3'", false},
		{"purpose mismatch", btc, NativeSegwit, "44'/0'", false},
		{"coin mismatch", btc, Legacy, "44'/2'", false},
		{"unhardened", btc, Legacy, "44/0", false},
		{"too deep", btc, Legacy, "44'/0'/0'", false},
		{"unknown mode", btc, Mode("p2pk"), "44'/0'", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.info, tt.mode, MustParsePath(tt.path))
			if tt.ok && err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if !tt.ok {
				var derr *Error
				if !errors.As(err, &derr) {
					t.Fatalf("err = %v, want *Error", err)
				}
				if !errors.Is(err, ErrUnsupported) {
					t.Error("error should unwrap to ErrUnsupported")
				}
				if derr.Currency != tt.info.String() {
					t.Errorf("Currency = %q, want %q", derr.Currency, tt.info.String())
				}
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Native_Segwit ")
	if err != nil || m != NativeSegwit {
		t.Errorf("ParseMode() = %q, %v", m, err)
	}
	if _, err := ParseMode("p2pk"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if Taproot.Purpose() != 86 || !Taproot.IsWitness() || Legacy.IsWitness() {
		t.Error("mode purpose/witness table wrong")
	}
}
