// Package derivation turns master key material into account keys and addresses.
package derivation

import (
	"fmt"
	"strings"
)

// Mode selects the script type an account derives addresses for.
type Mode string

// Derivation modes.
const (
	Legacy        Mode = "legacy"        // BIP-44, P2PKH
	WrappedSegwit Mode = "segwit"        // BIP-49, P2SH-P2WPKH
	NativeSegwit  Mode = "native_segwit" // BIP-84, P2WPKH
	Taproot       Mode = "taproot"       // BIP-86, P2TR key path
)

// Modes lists every known mode.
var Modes = []Mode{Legacy, WrappedSegwit, NativeSegwit, Taproot}

// ParseMode parses a mode name. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: mode %q", ErrUnsupported, s)
}

// Purpose returns the BIP-43 purpose number for the mode.
func (m Mode) Purpose() uint32 {
	switch m {
	case Legacy:
		return 44
	case WrappedSegwit:
		return 49
	case NativeSegwit:
		return 84
	case Taproot:
		return 86
	}
	return 0
}

// IsWitness reports whether spends of the mode's outputs carry witness data.
func (m Mode) IsWitness() bool {
	return m == WrappedSegwit || m == NativeSegwit || m == Taproot
}
