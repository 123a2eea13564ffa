// Package currency maps a currency and network to its chain parameters.
package currency

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// ID identifies a UTXO currency.
type ID string

// Supported currencies.
const (
	Bitcoin  ID = "bitcoin"
	Litecoin ID = "litecoin"
	Dogecoin ID = "dogecoin"
)

// Network identifiers.
const (
	Mainnet = "mainnet"
	Testnet = "testnet"
	Regtest = "regtest"
)

// ErrUnknown is returned for a currency/network pair that is not registered.
var ErrUnknown = errors.New("unknown currency")

// Info describes one currency on one network.
type Info struct {
	ID       ID
	Network  string
	Params   *chaincfg.Params
	CoinType uint32 // BIP-44 coin type, unhardened.

	// Segwit enables the wrapped and native segwit derivation modes.
	Segwit bool
	// Taproot enables BIP-86 key-path outputs.
	Taproot bool
}

// XpubVersion returns the public extended key version bytes.
func (i *Info) XpubVersion() []byte {
	v := i.Params.HDPublicKeyID
	return v[:]
}

// String returns "currency/network".
func (i *Info) String() string {
	return string(i.ID) + "/" + i.Network
}

type key struct {
	id      ID
	network string
}

var registry = map[key]*Info{}

func register(info *Info) {
	registry[key{info.ID, info.Network}] = info
}

// Lookup returns the registered info for a currency on a network.
func Lookup(id ID, network string) (*Info, error) {
	info, ok := registry[key{id, network}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknown, id, network)
	}
	return info, nil
}

// MustLookup is Lookup for static tables. It panics on unknown pairs.
func MustLookup(id ID, network string) *Info {
	info, err := Lookup(id, network)
	if err != nil {
		panic(err)
	}
	return info
}

// List returns every registered pair, sorted by currency then network.
func List() []*Info {
	out := make([]*Info, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ID != out[b].ID {
			return out[a].ID < out[b].ID
		}
		return out[a].Network < out[b].Network
	})
	return out
}

// Non-bitcoin parameter sets. They start from the bitcoin ones so the fields
// btcd needs for address handling are always populated.
var (
	litecoinMainNetParams = func() chaincfg.Params {
		p := chaincfg.MainNetParams
		p.Name = "litecoin-mainnet"
		p.Net = wire.BitcoinNet(0xdbb6c0fb)
		p.DefaultPort = "9333"
		p.DNSSeeds = nil
		p.Checkpoints = nil
		p.Bech32HRPSegwit = "ltc"
		p.PubKeyHashAddrID = 0x30
		p.ScriptHashAddrID = 0x32
		p.PrivateKeyID = 0xb0
		p.HDPrivateKeyID = [4]byte{0x01, 0x9d, 0x9c, 0xfe} // Ltpv
		p.HDPublicKeyID = [4]byte{0x01, 0x9d, 0xa4, 0x62}  // Ltub
		p.HDCoinType = 2
		return p
	}()

	litecoinTestNetParams = func() chaincfg.Params {
		p := chaincfg.TestNet3Params
		p.Name = "litecoin-testnet"
		p.Net = wire.BitcoinNet(0xf1c8d2fd)
		p.DefaultPort = "19335"
		p.DNSSeeds = nil
		p.Checkpoints = nil
		p.Bech32HRPSegwit = "tltc"
		p.PubKeyHashAddrID = 0x6f
		p.ScriptHashAddrID = 0x3a
		p.PrivateKeyID = 0xef
		p.HDCoinType = 1
		return p
	}()

	dogecoinMainNetParams = func() chaincfg.Params {
		p := chaincfg.MainNetParams
		p.Name = "dogecoin-mainnet"
		p.Net = wire.BitcoinNet(0xc0c0c0c0)
		p.DefaultPort = "22556"
		p.DNSSeeds = nil
		p.Checkpoints = nil
		p.Bech32HRPSegwit = ""
		p.PubKeyHashAddrID = 0x1e
		p.ScriptHashAddrID = 0x16
		p.PrivateKeyID = 0x9e
		p.HDPrivateKeyID = [4]byte{0x02, 0xfa, 0xc3, 0x98} // dgpv
		p.HDPublicKeyID = [4]byte{0x02, 0xfa, 0xca, 0xfd}  // dgub
		p.HDCoinType = 3
		return p
	}()
)

func init() {
	for _, p := range []*chaincfg.Params{&litecoinMainNetParams, &litecoinTestNetParams, &dogecoinMainNetParams} {
		// Registration makes the bech32 prefix known to btcutil.DecodeAddress.
		if err := chaincfg.Register(p); err != nil && !errors.Is(err, chaincfg.ErrDuplicateNet) {
			panic(fmt.Sprintf("register %s params: %v", p.Name, err))
		}
	}

	register(&Info{ID: Bitcoin, Network: Mainnet, Params: &chaincfg.MainNetParams, CoinType: 0, Segwit: true, Taproot: true})
	register(&Info{ID: Bitcoin, Network: Testnet, Params: &chaincfg.TestNet3Params, CoinType: 1, Segwit: true, Taproot: true})
	register(&Info{ID: Bitcoin, Network: Regtest, Params: &chaincfg.RegressionNetParams, CoinType: 1, Segwit: true, Taproot: true})
	register(&Info{ID: Litecoin, Network: Mainnet, Params: &litecoinMainNetParams, CoinType: 2, Segwit: true})
	register(&Info{ID: Litecoin, Network: Testnet, Params: &litecoinTestNetParams, CoinType: 1, Segwit: true})
	register(&Info{ID: Dogecoin, Network: Mainnet, Params: &dogecoinMainNetParams, CoinType: 3})
}
