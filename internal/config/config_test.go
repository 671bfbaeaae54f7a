package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ReturnsDefaultsWhenNoFileExists(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg != Default() {
		t.Fatalf("Load() = %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoad_MergesProjectFileOverDefaults(t *testing.T) {
	dir := t.TempDir()

	body := `{
		// project overrides
		"block_size": 8192,
	}`

	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BlockSize != 8192 {
		t.Fatalf("BlockSize = %d, want 8192", cfg.BlockSize)
	}

	if cfg.DiffName != Default().DiffName {
		t.Fatalf("DiffName = %q, want default %q", cfg.DiffName, Default().DiffName)
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, "missing.hujson")
	if err == nil {
		t.Fatalf("Load with missing explicit path succeeded, want error")
	}
}

func TestWriteDefault_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()

	if _, err := WriteDefault(dir); err != nil {
		t.Fatalf("first WriteDefault: %v", err)
	}

	if _, err := WriteDefault(dir); err == nil {
		t.Fatalf("second WriteDefault succeeded, want error")
	}
}

func TestFormat_RoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteDefault(dir)
	if err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(dir, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg != Default() {
		t.Fatalf("round-tripped config = %+v, want %+v", cfg, Default())
	}
}
