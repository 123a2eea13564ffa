package derivation

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrWrongNetwork is returned when an address decodes for another network.
var ErrWrongNetwork = errors.New("address belongs to another network")

// EncodeAddress builds the mode's address for a compressed public key.
func EncodeAddress(pub []byte, mode Mode, params *chaincfg.Params) (btcutil.Address, error) {
	switch mode {
	case Legacy:
		return btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub), params)

	case WrappedSegwit:
		redeem, err := RedeemScript(pub, mode, params)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(redeem, params)

	case NativeSegwit:
		return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub), params)

	case Taproot:
		key, err := secp256k1.ParsePubKey(pub)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		output := txscript.ComputeTaprootKeyNoScript(key)
		return btcutil.NewAddressTaproot(schnorr.SerializePubKey(output), params)
	}
	return nil, fmt.Errorf("%w: mode %q", ErrUnsupported, mode)
}

// RedeemScript returns the P2SH redeem script for wrapped segwit, nil otherwise.
func RedeemScript(pub []byte, mode Mode, params *chaincfg.Params) ([]byte, error) {
	if mode != WrappedSegwit {
		return nil, nil
	}
	inner, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub), params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(inner)
}

// DecodeAddress parses an address and checks it belongs to params' network.
func DecodeAddress(s string, params *chaincfg.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(s, params)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", s, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("%w: %q", ErrWrongNetwork, s)
	}
	return addr, nil
}

// PkScript returns the output script paying to an encoded address.
func PkScript(s string, params *chaincfg.Params) ([]byte, error) {
	addr, err := DecodeAddress(s, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
