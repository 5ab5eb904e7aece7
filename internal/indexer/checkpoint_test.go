package indexer

import (
	"path/filepath"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	store := NewCheckpointStore(path, testContract.Hex(), true)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("expected no checkpoint, ok=%v err=%v", ok, err)
	}
	if err := store.Save(123); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if cp.LastProcessedBlock != 123 || cp.Address != testContract.Hex() {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
}

func TestCheckpointOtherContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := NewCheckpointStore(path, testContract.Hex(), true).Save(5); err != nil {
		t.Fatalf("save: %v", err)
	}

	other := NewCheckpointStore(path, "0x0000000000000000000000000000000000000001", true)
	if _, _, err := other.Load(); err == nil {
		t.Fatalf("expected error for checkpoint of another contract")
	}
}

func TestCheckpointDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, testContract.Hex(), false)

	if err := store.Save(1); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("disabled store must not load, ok=%v err=%v", ok, err)
	}
}
