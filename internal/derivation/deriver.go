package derivation

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Deriver derives the addresses of one account. Both chain keys are
// computed up front so Derive is safe for concurrent use.
type Deriver struct {
	mode   Mode
	params *chaincfg.Params
	chains [2]*HDKey
}

// NewDeriver prepares address derivation below an account key.
func NewDeriver(account *HDKey, mode Mode, params *chaincfg.Params) (*Deriver, error) {
	d := &Deriver{mode: mode, params: params}
	for _, chain := range []uint32{External, Internal} {
		key, err := account.DeriveChild(chain)
		if err != nil {
			return nil, err
		}
		d.chains[chain] = key
	}
	return d, nil
}

// Key returns the child key at (chain, index).
func (d *Deriver) Key(chain, index uint32) (*HDKey, error) {
	if chain > Internal {
		return nil, fmt.Errorf("invalid chain %d", chain)
	}
	if index >= Hardened {
		return nil, fmt.Errorf("invalid address index %d", index)
	}
	return d.chains[chain].DeriveChild(index)
}

// Address returns the encoded address at (chain, index).
func (d *Deriver) Address(chain, index uint32) (string, error) {
	key, err := d.Key(chain, index)
	if err != nil {
		return "", err
	}
	addr, err := EncodeAddress(key.PublicKeyBytes(), d.mode, d.params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
