package account

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/explorer"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
)

// GenerateConfig describes an account to derive from a master key.
type GenerateConfig struct {
	KeyProvider derivation.KeyProvider
	Path        string // "purpose'/coin'", e.g. "44'/0'"
	Index       uint32 // account index, hardened on derivation
	Currency    currency.ID
	Network     string
	Mode        derivation.Mode
	Explorer    explorer.Explorer
	Policy      *Policy // nil for DefaultPolicy
}

// Generate derives the account at path/index' and returns it empty,
// ready to sync. A path/mode/currency combination that cannot be derived
// fails with a *derivation.Error.
func Generate(ctx context.Context, cfg GenerateConfig) (*Account, error) {
	if cfg.KeyProvider == nil {
		return nil, fmt.Errorf("generate account: no key provider")
	}
	if cfg.Index >= derivation.Hardened {
		return nil, fmt.Errorf("generate account: index %d out of range", cfg.Index)
	}
	info, err := currency.Lookup(cfg.Currency, cfg.Network)
	if err != nil {
		return nil, &derivation.Error{
			Path:     cfg.Path,
			Mode:     cfg.Mode,
			Currency: string(cfg.Currency) + "/" + cfg.Network,
			Reason:   err.Error(),
		}
	}
	prefix, err := derivation.ParsePath(cfg.Path)
	if err != nil {
		return nil, &derivation.Error{Path: cfg.Path, Mode: cfg.Mode, Currency: info.String(), Reason: err.Error()}
	}
	if err := derivation.Validate(info, cfg.Mode, prefix); err != nil {
		return nil, err
	}

	path := prefix.Child(derivation.Hardened + cfg.Index)
	key, err := cfg.KeyProvider.ExtendedPublicKey(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("generate account %s: %w", path.Full(), err)
	}
	fp, err := cfg.KeyProvider.MasterFingerprint(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate account: master fingerprint: %w", err)
	}

	x := Xpub{
		Key:               key.SerializeXpub(info.XpubVersion()),
		Currency:          info.ID,
		Network:           info.Network,
		Mode:              cfg.Mode,
		Path:              path,
		MasterFingerprint: fp,
		Explorer:          cfg.Explorer,
	}
	if cfg.Policy != nil {
		x.Policy = *cfg.Policy
	}
	return New(x)
}

// FromXpub builds a watch-only account from a base58 extended public key.
// An empty path defaults to purpose'/coin'/0' for the mode and currency;
// the master fingerprint is then unknown (zero).
func FromXpub(xpub string, id currency.ID, network string, mode derivation.Mode, path string, ex explorer.Explorer) (*Account, error) {
	info, err := currency.Lookup(id, network)
	if err != nil {
		return nil, &derivation.Error{Path: path, Mode: mode, Currency: string(id) + "/" + network, Reason: err.Error()}
	}

	var p derivation.Path
	if path == "" {
		p = derivation.Path{
			derivation.Hardened + mode.Purpose(),
			derivation.Hardened + info.CoinType,
			derivation.Hardened,
		}
	} else {
		p, err = derivation.ParsePath(path)
		if err != nil {
			return nil, &derivation.Error{Path: path, Mode: mode, Currency: info.String(), Reason: err.Error()}
		}
	}

	return New(Xpub{
		Key:      xpub,
		Currency: id,
		Network:  network,
		Mode:     mode,
		Path:     p,
		Explorer: ex,
	})
}
