package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestStore_PutGetDelete(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Get("missing"); err != ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	if err := s.Put("walletPasswordSalt", []byte("abc123")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, err := s.Get("walletPasswordSalt")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(value, []byte("abc123")) {
		t.Errorf("Expected abc123, got %q", value)
	}

	// Overwrite
	if err := s.Put("walletPasswordSalt", []byte("def456")); err != nil {
		t.Fatalf("Put (overwrite) failed: %v", err)
	}
	value, _ = s.Get("walletPasswordSalt")
	if !bytes.Equal(value, []byte("def456")) {
		t.Errorf("Expected def456 after overwrite, got %q", value)
	}

	if err := s.Delete("walletPasswordSalt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("walletPasswordSalt"); err != ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}

	// Deleting a missing key is a no-op
	if err := s.Delete("walletPasswordSalt"); err != nil {
		t.Errorf("Delete of missing key should not error, got %v", err)
	}
}

func TestStore_Has(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ok, err := s.Has("isWalletLocked")
	if err != nil {
		t.Fatalf("Has failed: %v", err)
	}
	if ok {
		t.Error("Expected Has to be false for missing key")
	}

	s.Put("isWalletLocked", []byte(`"true"`))

	ok, _ = s.Has("isWalletLocked")
	if !ok {
		t.Error("Expected Has to be true after Put")
	}
}

func TestStore_KeysPrefix(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	s.Put("balance_oct1aaa", []byte(`{}`))
	s.Put("balance_oct1bbb", []byte(`{}`))
	s.Put("rpcProviders", []byte(`[]`))

	keys, err := s.Keys("balance_")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Expected 2 balance keys, got %d", len(keys))
	}
	if keys[0] != "balance_oct1aaa" || keys[1] != "balance_oct1bbb" {
		t.Errorf("Unexpected key order: %v", keys)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Put("activeWalletId", []byte(`"oct1abc"`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s2.Close()

	value, err := s2.Get("activeWalletId")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(value) != `"oct1abc"` {
		t.Errorf("Expected persisted value, got %q", value)
	}
}
