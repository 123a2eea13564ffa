// Package storage provides the key-value stores accounts are persisted in.
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Error describes a failed storage operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DB is the interface for key-value storage.
type DB interface {
	// Get returns ErrNotFound when the key does not exist.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in key order.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// NewBatch returns a batch whose writes are applied atomically on Commit.
	NewBatch() Batch
	Close() error
}

// Batch collects writes that are applied together on Commit. Discard drops
// uncommitted writes and is safe to call after Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Discard()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
