package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// decimals is the number of fractional digits in a coin amount.
const decimals = 8

// formatAmount renders satoshis as a decimal coin amount.
func formatAmount(sats int64) string {
	sign := ""
	if sats < 0 {
		sign = "-"
		sats = -sats
	}
	whole := sats / btcutil.SatoshiPerBitcoin
	frac := sats % btcutil.SatoshiPerBitcoin
	return fmt.Sprintf("%s%d.%08d", sign, whole, frac)
}

// parseAmount converts a decimal coin amount to satoshis.
func parseAmount(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.ContainsAny(s, "+-") {
		return 0, fmt.Errorf("amount must be unsigned")
	}

	parts := strings.SplitN(s, ".", 2)

	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid whole part: %w", err)
	}

	var frac int64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > decimals {
			return 0, fmt.Errorf("too many decimal places (max %d)", decimals)
		}
		// Pad to decimals digits.
		fracStr = fracStr + strings.Repeat("0", decimals-len(fracStr))
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fractional part: %w", err)
		}
	}

	if whole > (math.MaxInt64-frac)/btcutil.SatoshiPerBitcoin {
		return 0, fmt.Errorf("amount too large")
	}
	total := whole*btcutil.SatoshiPerBitcoin + frac
	if total == 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	return total, nil
}
