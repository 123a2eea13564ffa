package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Klingon-tech/klingwallet/internal/account"
	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/pkg/currency"
)

func testSerialized(t *testing.T) *account.SerializedAccount {
	t.Helper()
	p, err := derivation.NewSeedKeyProvider("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", "")
	if err != nil {
		t.Fatalf("NewSeedKeyProvider: %v", err)
	}
	a, err := account.Generate(context.Background(), account.GenerateConfig{
		KeyProvider: p,
		Path:        "44'/0'",
		Currency:    currency.Bitcoin,
		Network:     currency.Mainnet,
		Mode:        derivation.Legacy,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := a.NewReceiveAddress(); err != nil {
		t.Fatalf("NewReceiveAddress: %v", err)
	}
	return account.Export(a)
}

func TestAccountStore_SaveLoad(t *testing.T) {
	for name, db := range map[string]DB{
		"memory": NewMemory(),
		"sealed": mustSealed(t),
	} {
		t.Run(name, func(t *testing.T) {
			store := NewAccountStore(db)
			sa := testSerialized(t)

			if err := store.Save("main", sa); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := store.Load("main")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(got, sa) {
				t.Fatalf("Load = %+v, want %+v", got, sa)
			}

			keys, err := store.Keys()
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if len(keys) != 1 || keys[0] != "main" {
				t.Fatalf("Keys = %v, want [main]", keys)
			}

			if err := store.Delete("main"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.Load("main"); !IsNotFound(err) {
				t.Fatalf("Load after Delete error = %v, want not found", err)
			}
		})
	}
}

func mustSealed(t *testing.T) DB {
	t.Helper()
	db, err := NewSealed(NewMemory(), []byte("pw"), testSealParams)
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	return db
}

func TestAccountStore_NotFound(t *testing.T) {
	store := NewAccountStore(NewMemory())
	_, err := store.Load("nope")

	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("Load error = %v, want *Error", err)
	}
	if serr.Op != "load" || serr.Key != "nope" {
		t.Errorf("Error = %+v, want op load key nope", serr)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("Load error should wrap ErrNotFound")
	}
}

func TestAccountStore_UnknownVersion(t *testing.T) {
	db := NewMemory()
	db.Put([]byte("acct/old"), []byte(`{"version":7}`))

	_, err := NewAccountStore(db).Load("old")
	var verr *account.VersionError
	if !errors.As(err, &verr) {
		t.Fatalf("Load error = %v, want *account.VersionError", err)
	}
	if verr.Version != 7 {
		t.Errorf("VersionError.Version = %d, want 7", verr.Version)
	}
}

func TestOpen(t *testing.T) {
	db, err := Open(BackendMemory, "", nil)
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := db.(*MemoryDB); !ok {
		t.Fatalf("Open(memory) = %T", db)
	}

	db, err = Open(BackendBadger, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open(badger): %v", err)
	}
	db.Close()

	if _, err := Open("bolt", "", nil); err == nil {
		t.Fatal("Open(bolt) should fail")
	}
}
