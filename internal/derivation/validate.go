package derivation

import (
	"fmt"

	"github.com/Klingon-tech/klingwallet/pkg/currency"
)

// Validate checks that an account path prefix ("purpose'/coin'") and mode can
// be derived for the currency.
func Validate(info *currency.Info, mode Mode, path Path) error {
	fail := func(format string, args ...any) error {
		return &Error{
			Path:     path.String(),
			Mode:     mode,
			Currency: info.String(),
			Reason:   fmt.Sprintf(format, args...),
		}
	}

	if mode.Purpose() == 0 {
		return fail("unknown mode")
	}
	if mode.IsWitness() && !info.Segwit {
		return fail("currency has no segwit")
	}
	if mode == Taproot && !info.Taproot {
		return fail("currency has no taproot")
	}

	if len(path) != 2 {
		return fail("path must be purpose'/coin'")
	}
	if path[0] < Hardened || path[1] < Hardened {
		return fail("purpose and coin type must be hardened")
	}
	if purpose := path[0] - Hardened; purpose != mode.Purpose() {
		return fail("purpose %d does not match mode, want %d", purpose, mode.Purpose())
	}
	if coin := path[1] - Hardened; coin != info.CoinType {
		return fail("coin type %d does not match currency, want %d", coin, info.CoinType)
	}
	return nil
}
