// Package crypto provides the hashing used for wallet identifiers.
package crypto

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// AccountID derives a stable 16-byte hex identifier from the parts that
// make an account unique. Each part is prefixed with its uvarint length so
// ("ab","c") and ("a","bc") differ.
func AccountID(parts ...string) string {
	h := blake3.New()
	var n [binary.MaxVarintLen64]byte
	for _, p := range parts {
		h.Write(n[:binary.PutUvarint(n[:], uint64(len(p)))])
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
