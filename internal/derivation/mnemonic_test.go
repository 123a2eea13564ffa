package derivation

import (
	"strings"
	"testing"
)

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}

	if words := strings.Fields(mnemonic); len(words) != 24 {
		t.Errorf("word count = %d, want 24", len(words))
	}
	if !ValidateMnemonic(mnemonic) {
		t.Error("generated mnemonic should validate")
	}
}

func TestSeedFromMnemonic(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	if len(seed) != 64 {
		t.Errorf("seed length = %d, want 64", len(seed))
	}

	other, err := SeedFromMnemonic(testMnemonic, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	if string(seed) == string(other) {
		t.Error("passphrase should change the seed")
	}
}

func TestSeedFromMnemonic_Invalid(t *testing.T) {
	tests := []string{
		"",
		"abandon abandon abandon",
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon",
	}
	for _, m := range tests {
		if _, err := SeedFromMnemonic(m, ""); err == nil {
			t.Errorf("SeedFromMnemonic(%q) should fail", m)
		}
	}
}
