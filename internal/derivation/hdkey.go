package derivation

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/tyler-smith/go-bip32"
)

// Seed length bounds accepted by BIP-32.
const (
	MinSeedSize = 16
	MaxSeedSize = 64
)

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) < MinSeedSize || len(seed) > MaxSeedSize {
		return nil, fmt.Errorf("seed must be %d-%d bytes, got %d", MinSeedSize, MaxSeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// ParseXpub decodes a base58 extended public key and checks its version bytes.
func ParseXpub(s string, version []byte) (*HDKey, error) {
	k, err := bip32.B58Deserialize(s)
	if err != nil {
		return nil, fmt.Errorf("decode xpub: %w", err)
	}
	if k.IsPrivate {
		return nil, fmt.Errorf("decode xpub: got a private key")
	}
	if version != nil && !bytes.Equal(k.Version, version) {
		return nil, fmt.Errorf("decode xpub: version %x, want %x", k.Version, version)
	}
	return &HDKey{key: k}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add Hardened to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	pub := k.key.PublicKey()
	return pub.Key
}

// PrivateKey returns the secp256k1 private key. It fails on public keys.
func (k *HDKey) PrivateKey() (*btcec.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("not a private key")
	}
	priv, _ := btcec.PrivKeyFromBytes(k.key.Key)
	return priv, nil
}

// Fingerprint returns the first four bytes of HASH160 of the public key,
// the value children record as their parent fingerprint.
func (k *HDKey) Fingerprint() uint32 {
	return binary.BigEndian.Uint32(btcutil.Hash160(k.PublicKeyBytes())[:4])
}

// SerializeXpub encodes the public half of the key with the given version bytes.
func (k *HDKey) SerializeXpub(version []byte) string {
	pub := k.key.PublicKey()
	pub.Version = append([]byte(nil), version...)
	return pub.B58Serialize()
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// Neuter returns a public-key-only copy (for watch-only wallets).
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
