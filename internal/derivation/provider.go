package derivation

import (
	"context"
	"fmt"
)

// KeyProvider is the master key handle. Implementations may live on a
// hardware device; only public material ever leaves them.
type KeyProvider interface {
	// ExtendedPublicKey returns the public key at an absolute path.
	ExtendedPublicKey(ctx context.Context, path Path) (*HDKey, error)
	// MasterFingerprint returns the fingerprint of the master public key.
	MasterFingerprint(ctx context.Context) (uint32, error)
}

// SeedKeyProvider holds a BIP-32 master key derived from a seed in memory.
type SeedKeyProvider struct {
	master *HDKey
}

// NewSeedKeyProvider derives the master key from a BIP-39 mnemonic.
func NewSeedKeyProvider(mnemonic, passphrase string) (*SeedKeyProvider, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return NewSeedKeyProviderFromSeed(seed)
}

// NewSeedKeyProviderFromSeed builds a provider from a raw seed.
func NewSeedKeyProviderFromSeed(seed []byte) (*SeedKeyProvider, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return &SeedKeyProvider{master: master}, nil
}

// ExtendedPublicKey implements KeyProvider.
func (p *SeedKeyProvider) ExtendedPublicKey(ctx context.Context, path Path) (*HDKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := p.master.DerivePath(path...)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", path.Full(), err)
	}
	return key.Neuter(), nil
}

// MasterFingerprint implements KeyProvider.
func (p *SeedKeyProvider) MasterFingerprint(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.master.Fingerprint(), nil
}
