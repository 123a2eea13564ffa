package main

import (
	"errors"
	"strings"
	"testing"
)

func TestRun_ErrorClosesStore(t *testing.T) {
	dir := t.TempDir()
	failing := [][]string{
		{"balance"},
		{"account", "new", "--seed", "main"},
		{"account", "bogus"},
	}
	for _, args := range failing {
		err := run(append([]string{"--datadir", dir}, args...))
		if err == nil {
			t.Fatalf("run(%v) succeeded", args)
		}
		// The badger directory lock is only released by Close, so a
		// follow-up run fails to open unless the failed one cleaned up.
		if err := run([]string{"--datadir", dir, "account", "list"}); err != nil {
			t.Fatalf("after run(%v): %v", args, err)
		}
	}
}

func TestRun_ErrorMessages(t *testing.T) {
	dir := t.TempDir()

	err := run([]string{"--datadir", dir, "balance"})
	if err == nil || !strings.Contains(err.Error(), "--account is required") {
		t.Fatalf("balance without account: %v", err)
	}

	err = run([]string{"--datadir", dir, "seed", "list"})
	if err == nil || !strings.Contains(err.Error(), "sealed storage") {
		t.Fatalf("seed list unsealed: %v", err)
	}

	if err := run([]string{"--datadir", dir, "frobnicate"}); !errors.Is(err, errUsage) {
		t.Fatalf("unknown command: got %v, want errUsage", err)
	}
	if err := run([]string{"--datadir", dir}); !errors.Is(err, errUsage) {
		t.Fatalf("no command: got %v, want errUsage", err)
	}
}
