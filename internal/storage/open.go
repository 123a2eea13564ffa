package storage

import (
	"fmt"
	"path/filepath"
)

// Backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open opens the configured backend. Badger data lives in dir/accounts.
// A non-empty password seals every value.
func Open(backend, dir string, password []byte) (DB, error) {
	var db DB
	switch backend {
	case BackendBadger, "":
		b, err := NewBadger(filepath.Join(dir, "accounts"))
		if err != nil {
			return nil, err
		}
		db = b
	case BackendMemory:
		db = NewMemory()
	default:
		return nil, &Error{Op: "open", Key: backend, Err: fmt.Errorf("unknown backend")}
	}

	if len(password) == 0 {
		return db, nil
	}
	sealed, err := NewSealed(db, password, DefaultSealParams())
	if err != nil {
		db.Close()
		return nil, err
	}
	return sealed, nil
}
