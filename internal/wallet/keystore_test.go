package wallet

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingwallet/internal/derivation"
	"github.com/Klingon-tech/klingwallet/internal/storage"
)

var fastSealParams = storage.SealParams{Memory: 1024, Iterations: 1, Parallelism: 1}

func testKeystore(t *testing.T) *Keystore {
	t.Helper()
	db, err := storage.NewSealed(storage.NewMemory(), []byte("test-password"), fastSealParams)
	if err != nil {
		t.Fatalf("NewSealed() error: %v", err)
	}
	ks, err := NewKeystore(db)
	if err != nil {
		t.Fatalf("NewKeystore() error: %v", err)
	}
	return ks
}

func testSeedBytes(t *testing.T) []byte {
	t.Helper()
	seed, err := derivation.SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	return seed
}

func TestKeystore_RequiresSealedStore(t *testing.T) {
	if _, err := NewKeystore(storage.NewMemory()); !errors.Is(err, ErrUnsealed) {
		t.Fatalf("NewKeystore() on a plain store error = %v, want ErrUnsealed", err)
	}
}

func TestKeystore_CreateAndLoad(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	if err := ks.Create("mywallet", seed); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	loaded, err := ks.Load("mywallet")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !bytes.Equal(loaded, seed) {
		t.Error("loaded seed does not match original")
	}
}

func TestKeystore_CreateDuplicate(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	if err := ks.Create("dup", seed); err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	if err := ks.Create("dup", seed); err == nil {
		t.Error("second Create() should fail for duplicate name")
	}
}

func TestKeystore_CreateInvalid(t *testing.T) {
	ks := testKeystore(t)
	if err := ks.Create("", testSeedBytes(t)); err == nil {
		t.Error("Create() with empty name should fail")
	}
	if err := ks.Create("short", make([]byte, 8)); err == nil {
		t.Error("Create() with short seed should fail")
	}
	if err := ks.CreateFromMnemonic("bad", "not a mnemonic", ""); err == nil {
		t.Error("CreateFromMnemonic() with invalid mnemonic should fail")
	}
}

func TestKeystore_LoadNonexistent(t *testing.T) {
	ks := testKeystore(t)
	_, err := ks.Load("doesnotexist")
	if !storage.IsNotFound(err) {
		t.Fatalf("Load() error = %v, want not found", err)
	}
}

func TestKeystore_List(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeedBytes(t)

	for _, name := range []string{"beta", "alpha"} {
		if err := ks.Create(name, seed); err != nil {
			t.Fatalf("Create(%s) error: %v", name, err)
		}
	}
	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List() = %v, want [alpha beta]", names)
	}
}

func TestKeystore_Delete(t *testing.T) {
	ks := testKeystore(t)
	if err := ks.Create("gone", testSeedBytes(t)); err != nil {
		t.Fatal(err)
	}
	if err := ks.Delete("gone"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := ks.Load("gone"); err == nil {
		t.Error("Load() after Delete() should fail")
	}
	if err := ks.Delete("gone"); !storage.IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want not found", err)
	}
}

func TestKeystore_AddAccount(t *testing.T) {
	ks := testKeystore(t)
	if err := ks.Create("w", testSeedBytes(t)); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"acct-1", "acct-2", "acct-1"} {
		if err := ks.AddAccount("w", id); err != nil {
			t.Fatalf("AddAccount(%s) error: %v", id, err)
		}
	}
	ids, err := ks.ListAccounts("w")
	if err != nil {
		t.Fatalf("ListAccounts() error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListAccounts() = %v, want 2 entries", ids)
	}

	name, err := ks.FindAccount("acct-2")
	if err != nil || name != "w" {
		t.Errorf("FindAccount() = %q, %v", name, err)
	}
	if _, err := ks.FindAccount("acct-3"); !storage.IsNotFound(err) {
		t.Errorf("FindAccount(unknown) error = %v, want not found", err)
	}
	if err := ks.AddAccount("missing", "acct-1"); err == nil {
		t.Error("AddAccount() on missing seed should fail")
	}
}

func TestKeystore_ProviderAndSigner(t *testing.T) {
	ks := testKeystore(t)
	if err := ks.CreateFromMnemonic("w", testMnemonic, ""); err != nil {
		t.Fatal(err)
	}

	p, err := ks.Provider("w")
	if err != nil {
		t.Fatalf("Provider() error: %v", err)
	}
	fp, err := p.MasterFingerprint(context.Background())
	if err != nil || fp != 0x73c5da0a {
		t.Errorf("MasterFingerprint() = %08x, %v", fp, err)
	}

	if _, err := ks.Signer("w"); err != nil {
		t.Errorf("Signer() error: %v", err)
	}
}

func TestKeystore_SharesStoreWithAccounts(t *testing.T) {
	db, err := storage.NewSealed(storage.NewMemory(), []byte("pw"), fastSealParams)
	if err != nil {
		t.Fatal(err)
	}
	ks, err := NewKeystore(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := ks.Create("w", testSeedBytes(t)); err != nil {
		t.Fatal(err)
	}

	keys, err := storage.NewAccountStore(db).Keys()
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("seeds leaked into the account namespace: %v", keys)
	}
}
