package txbuilder

import (
	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Witness sizes not covered by txsizes.
const (
	// p2trKeySpendWitnessWeight is a key-path spend with the default sighash:
	// item count, push length and a 64-byte schnorr signature.
	p2trKeySpendWitnessWeight = 1 + 1 + 64

	// segwitMarkerWeight covers the marker and flag bytes.
	segwitMarkerWeight = 2
)

// inputSize returns the non-witness size and the witness weight of one
// input spent with mode.
func inputSize(mode derivation.Mode) (base, witness int) {
	switch mode {
	case derivation.Legacy:
		return txsizes.RedeemP2PKHInputSize, 0
	case derivation.WrappedSegwit:
		return txsizes.RedeemNestedP2WPKHInputSize, txsizes.RedeemP2WPKHInputWitnessWeight
	case derivation.NativeSegwit:
		return txsizes.RedeemP2WPKHInputSize, txsizes.RedeemP2WPKHInputWitnessWeight
	case derivation.Taproot:
		return txsizes.RedeemP2WPKHInputSize, p2trKeySpendWitnessWeight
	}
	return txsizes.RedeemP2PKHInputSize, 0
}

// pkScriptSize returns the output script size of an address of mode.
func pkScriptSize(mode derivation.Mode) int {
	switch mode {
	case derivation.WrappedSegwit:
		return txsizes.NestedP2WPKHPkScriptSize
	case derivation.NativeSegwit:
		return txsizes.P2WPKHPkScriptSize
	case derivation.Taproot:
		return txsizes.P2TRPkScriptSize
	}
	return txsizes.P2PKHPkScriptSize
}

// outputSize returns the serialized size of an output with a script of
// scriptSize bytes.
func outputSize(scriptSize int) int {
	return 8 + wire.VarIntSerializeSize(uint64(scriptSize)) + scriptSize
}

// EstimateWeight returns the weight of a signed transaction spending
// numInputs outputs of mode into outputs with the given script sizes.
func EstimateWeight(mode derivation.Mode, numInputs int, scriptSizes []int) int64 {
	base := 4 + 4 // version + locktime
	base += wire.VarIntSerializeSize(uint64(numInputs))
	base += wire.VarIntSerializeSize(uint64(len(scriptSizes)))

	inBase, inWitness := inputSize(mode)
	base += numInputs * inBase
	for _, s := range scriptSizes {
		base += outputSize(s)
	}

	weight := int64(base) * blockchain.WitnessScaleFactor
	if inWitness > 0 && numInputs > 0 {
		weight += segwitMarkerWeight + int64(numInputs*inWitness)
	}
	return weight
}

// EstimateVSize returns the virtual size of the transaction described to
// EstimateWeight.
func EstimateVSize(mode derivation.Mode, numInputs int, scriptSizes []int) int64 {
	w := EstimateWeight(mode, numInputs, scriptSizes)
	return (w + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor
}
