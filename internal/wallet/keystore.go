package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/storage"
)

// SeedPrefix is the namespace seeds live under.
var SeedPrefix = []byte("seed/")

// ErrUnsealed is returned when a keystore is opened over a store that does
// not encrypt its values.
var ErrUnsealed = errors.New("keystore requires a sealed store")

// keystoreRecord is the stored form of one seed.
type keystoreRecord struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Seed      []byte    `json:"seed"`
	Accounts  []string  `json:"accounts"` // IDs of accounts derived from the seed
}

// Keystore keeps named seeds in a sealed store.
type Keystore struct {
	root storage.DB
	db   *storage.PrefixDB
}

// NewKeystore returns a keystore over db's seed namespace.
func NewKeystore(db storage.DB) (*Keystore, error) {
	if _, ok := db.(*storage.SealedDB); !ok {
		return nil, ErrUnsealed
	}
	return &Keystore{root: db, db: storage.NewPrefixDB(db, SeedPrefix)}, nil
}

// Create stores a new seed under name.
func (ks *Keystore) Create(name string, seed []byte) error {
	if name == "" {
		return fmt.Errorf("wallet name is empty")
	}
	if len(seed) < derivation.MinSeedSize || len(seed) > derivation.MaxSeedSize {
		return fmt.Errorf("seed must be %d-%d bytes, got %d", derivation.MinSeedSize, derivation.MaxSeedSize, len(seed))
	}
	exists, err := ks.db.Has([]byte(name))
	if err != nil {
		return &storage.Error{Op: "create", Key: name, Err: err}
	}
	if exists {
		return fmt.Errorf("wallet %q already exists", name)
	}
	return ks.write(name, &keystoreRecord{
		Version:   1,
		CreatedAt: time.Now().UTC(),
		Seed:      append([]byte(nil), seed...),
		Accounts:  []string{},
	})
}

// CreateFromMnemonic stores the seed of a BIP-39 mnemonic under name.
func (ks *Keystore) CreateFromMnemonic(name, mnemonic, passphrase string) error {
	seed, err := derivation.SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return err
	}
	return ks.Create(name, seed)
}

// Load returns the seed stored under name.
func (ks *Keystore) Load(name string) ([]byte, error) {
	rec, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return rec.Seed, nil
}

// Provider returns a key provider over the named seed.
func (ks *Keystore) Provider(name string) (*derivation.SeedKeyProvider, error) {
	seed, err := ks.Load(name)
	if err != nil {
		return nil, err
	}
	return derivation.NewSeedKeyProviderFromSeed(seed)
}

// Signer returns a signer over the named seed.
func (ks *Keystore) Signer(name string) (*SeedSigner, error) {
	seed, err := ks.Load(name)
	if err != nil {
		return nil, err
	}
	return NewSeedSigner(seed)
}

// AddAccount records that an account was derived from the named seed.
// Adding the same account twice is a no-op.
func (ks *Keystore) AddAccount(name, accountID string) error {
	b := ks.root.NewBatch()
	defer b.Discard()
	if err := ks.AddAccountBatch(b, name, accountID); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return &storage.Error{Op: "write seed", Key: name, Err: err}
	}
	return nil
}

// AddAccountBatch stages AddAccount in b, a batch over the keystore's DB.
func (ks *Keystore) AddAccountBatch(b storage.Batch, name, accountID string) error {
	rec, err := ks.read(name)
	if err != nil {
		return err
	}
	for _, id := range rec.Accounts {
		if id == accountID {
			return nil
		}
	}
	rec.Accounts = append(rec.Accounts, accountID)
	data, err := json.Marshal(rec)
	if err != nil {
		return &storage.Error{Op: "write seed", Key: name, Err: err}
	}
	if err := ks.db.Scoped(b).Put([]byte(name), data); err != nil {
		return &storage.Error{Op: "write seed", Key: name, Err: err}
	}
	return nil
}

// ListAccounts returns the account IDs recorded for a seed.
func (ks *Keystore) ListAccounts(name string) ([]string, error) {
	rec, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return rec.Accounts, nil
}

// FindAccount returns the name of the seed an account was derived from.
func (ks *Keystore) FindAccount(accountID string) (string, error) {
	names, err := ks.List()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		ids, err := ks.ListAccounts(name)
		if err != nil {
			return "", err
		}
		for _, id := range ids {
			if id == accountID {
				return name, nil
			}
		}
	}
	return "", &storage.Error{Op: "find", Key: accountID, Err: storage.ErrNotFound}
}

// List returns the names of all stored seeds in order.
func (ks *Keystore) List() ([]string, error) {
	var names []string
	err := ks.db.ForEach(nil, func(key, _ []byte) error {
		names = append(names, string(key))
		return nil
	})
	if err != nil {
		return nil, &storage.Error{Op: "list", Err: err}
	}
	return names, nil
}

// Delete removes a seed.
func (ks *Keystore) Delete(name string) error {
	exists, err := ks.db.Has([]byte(name))
	if err != nil {
		return &storage.Error{Op: "delete", Key: name, Err: err}
	}
	if !exists {
		return &storage.Error{Op: "delete", Key: name, Err: storage.ErrNotFound}
	}
	return ks.db.Delete([]byte(name))
}

func (ks *Keystore) write(name string, rec *keystoreRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &storage.Error{Op: "write seed", Key: name, Err: err}
	}
	if err := ks.db.Put([]byte(name), data); err != nil {
		return &storage.Error{Op: "write seed", Key: name, Err: err}
	}
	return nil
}

func (ks *Keystore) read(name string) (*keystoreRecord, error) {
	data, err := ks.db.Get([]byte(name))
	if err != nil {
		return nil, &storage.Error{Op: "read seed", Key: name, Err: err}
	}
	var rec keystoreRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &storage.Error{Op: "read seed", Key: name, Err: err}
	}
	if rec.Version != 1 {
		return nil, &storage.Error{Op: "read seed", Key: name, Err: fmt.Errorf("unsupported version %d", rec.Version)}
	}
	return &rec, nil
}
