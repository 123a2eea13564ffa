package storage

import (
	"errors"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/log"
)

// AccountPrefix is the namespace serialized accounts live under.
var AccountPrefix = []byte("acct/")

// AccountStore persists serialized accounts by key.
type AccountStore struct {
	db *PrefixDB
}

// NewAccountStore returns a store over db's account namespace.
func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: NewPrefixDB(db, AccountPrefix)}
}

// Save writes an account record, replacing any previous one.
func (s *AccountStore) Save(key string, sa *account.SerializedAccount) error {
	b := s.db.NewBatch()
	defer b.Discard()
	if err := s.SaveBatch(b, key, sa); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return &Error{Op: "save", Key: key, Err: err}
	}
	return nil
}

// SaveBatch stages an account record in b, a batch over the DB the store
// was created on. Nothing is written until b commits.
func (s *AccountStore) SaveBatch(b Batch, key string, sa *account.SerializedAccount) error {
	data, err := account.Marshal(sa)
	if err != nil {
		return &Error{Op: "save", Key: key, Err: err}
	}
	if err := s.db.Scoped(b).Put([]byte(key), data); err != nil {
		return &Error{Op: "save", Key: key, Err: err}
	}
	log.Storage.Debug().Str("key", key).Int("bytes", len(data)).Msg("Account staged")
	return nil
}

// Load reads an account record. Errors wrap ErrNotFound when the key is
// absent and *account.VersionError for records of an unknown version.
func (s *AccountStore) Load(key string) (*account.SerializedAccount, error) {
	data, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, &Error{Op: "load", Key: key, Err: err}
	}
	sa, err := account.Unmarshal(data)
	if err != nil {
		return nil, &Error{Op: "load", Key: key, Err: err}
	}
	return sa, nil
}

// Delete removes an account record. Deleting a missing key is not an error.
func (s *AccountStore) Delete(key string) error {
	if err := s.db.Delete([]byte(key)); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Keys lists the stored account keys in order.
func (s *AccountStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.ForEach(nil, func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return keys, nil
}

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
