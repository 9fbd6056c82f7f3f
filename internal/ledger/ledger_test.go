package ledger

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestStoreThenGetRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	l := Open(path)

	keys := KeySet{
		PICCMasterKey: bytes.Repeat([]byte{0x11}, 16),
		AppReadKey:    bytes.Repeat([]byte{0x22}, 16),
		SDMMACKey:     bytes.Repeat([]byte{0x33}, 16),
	}
	if err := l.Store("04AABBCCDDEEFF", keys, "provisioned", "first unit"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entry, ok, err := l.Get("04:AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected entry to be found")
	}
	if !bytes.Equal(entry.Keys.PICCMasterKey, keys.PICCMasterKey) {
		t.Fatalf("PICCMasterKey mismatch: got %x", entry.Keys.PICCMasterKey)
	}
	if entry.Status != "provisioned" {
		t.Fatalf("expected status 'provisioned', got %q", entry.Status)
	}
}

func TestGetMissingUIDReturnsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	l := Open(path)
	_, ok, err := l.Get("0000000000000000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected not found on empty ledger")
	}
}

func TestStoreUpdatesExistingRowInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	l := Open(path)

	keysA := KeySet{PICCMasterKey: bytes.Repeat([]byte{0x01}, 16), AppReadKey: bytes.Repeat([]byte{0x02}, 16), SDMMACKey: bytes.Repeat([]byte{0x03}, 16)}
	keysB := KeySet{PICCMasterKey: bytes.Repeat([]byte{0x04}, 16), AppReadKey: bytes.Repeat([]byte{0x05}, 16), SDMMACKey: bytes.Repeat([]byte{0x06}, 16)}

	if err := l.Store("AABBCCDD", keysA, "provisioned", ""); err != nil {
		t.Fatalf("Store A: %v", err)
	}
	if err := l.Store("11223344", KeySet{PICCMasterKey: make([]byte, 16), AppReadKey: make([]byte, 16), SDMMACKey: make([]byte, 16)}, "provisioned", ""); err != nil {
		t.Fatalf("Store other: %v", err)
	}
	if err := l.Store("AABBCCDD", keysB, "restored", "factory reset"); err != nil {
		t.Fatalf("Store B: %v", err)
	}

	entry, ok, err := l.Get("AABBCCDD")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(entry.Keys.PICCMasterKey, keysB.PICCMasterKey) {
		t.Fatalf("expected updated key, got %x", entry.Keys.PICCMasterKey)
	}
	if entry.Status != "restored" {
		t.Fatalf("expected status 'restored', got %q", entry.Status)
	}

	other, ok, err := l.Get("11223344")
	if err != nil || !ok {
		t.Fatalf("expected unrelated row to survive update: ok=%v err=%v", ok, err)
	}
	_ = other
}
