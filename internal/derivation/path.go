package derivation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tyler-smith/go-bip32"
)

// Chain indices below the account level.
const (
	External uint32 = 0 // receive addresses
	Internal uint32 = 1 // change addresses
)

// Hardened is the offset of the first hardened child.
const Hardened = bip32.FirstHardenedChild

// Path is a sequence of child indices, hardened ones offset by Hardened.
type Path []uint32

// ParsePath parses "44'/0'", "m/44'/0'/0'" or "84h/1h".
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m/")
	if s == "" || s == "m" {
		return Path{}, nil
	}

	parts := strings.Split(s, "/")
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		hardened := false
		if n := len(part); n > 0 && (part[n-1] == '\'' || part[n-1] == 'h' || part[n-1] == 'H') {
			hardened = true
			part = part[:n-1]
		}
		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil || idx >= uint64(Hardened) {
			return nil, fmt.Errorf("invalid path element %q in %q", part, s)
		}
		if hardened {
			idx += uint64(Hardened)
		}
		path = append(path, uint32(idx))
	}
	return path, nil
}

// MustParsePath is ParsePath for constants.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Child returns a copy of the path extended by idx.
func (p Path) Child(idx uint32) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, idx)
}

// String renders the path without the "m/" prefix.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		if idx >= Hardened {
			parts[i] = strconv.FormatUint(uint64(idx-Hardened), 10) + "'"
		} else {
			parts[i] = strconv.FormatUint(uint64(idx), 10)
		}
	}
	return strings.Join(parts, "/")
}

// Full renders the path with the "m/" prefix.
func (p Path) Full() string {
	if len(p) == 0 {
		return "m"
	}
	return "m/" + p.String()
}
