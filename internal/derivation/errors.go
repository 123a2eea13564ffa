package derivation

import (
	"errors"
	"fmt"
)

// ErrUnsupported is the root of every derivation failure.
var ErrUnsupported = errors.New("unsupported derivation")

// Error describes a path/mode/currency combination that cannot be derived.
type Error struct {
	Path     string
	Mode     Mode
	Currency string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("derivation %s (%s on %s): %s", e.Path, e.Mode, e.Currency, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrUnsupported
}
