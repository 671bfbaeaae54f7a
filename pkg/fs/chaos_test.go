package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func Test_Chaos_Write_Fails_When_WriteFailRate_Is_One(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")

	chaos := NewChaos(NewReal(), ChaosConfig{WriteFailRate: 1}, 1)

	f, err := chaos.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	if n != 0 || !errors.Is(err, ErrInjected) {
		t.Fatalf("Write: n=%d err=%v, want n=0 err=%v", n, err, ErrInjected)
	}
}

func Test_Chaos_Passes_Through_When_Rates_Are_Zero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")

	chaos := NewChaos(NewReal(), ChaosConfig{}, 1)

	f, err := chaos.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func Test_Chaos_Sync_Fails_When_SyncFailRate_Is_One(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")

	chaos := NewChaos(NewReal(), ChaosConfig{SyncFailRate: 1}, 1)

	f, err := chaos.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Sync(); !errors.Is(err, ErrInjected) {
		t.Fatalf("Sync: err=%v, want %v", err, ErrInjected)
	}
}
