package overlay_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andrewarrow/cowblock/pkg/overlay"
)

// patternBytes returns n bytes of the repeating sequence 0..255.
func patternBytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 256)
	}

	return buf
}

// mustOpen creates a backing file with the given content under a fresh temp
// dir and opens an [overlay.Engine] over fresh sidecars.
func mustOpen(t *testing.T, backing []byte, blockSize uint32) (*overlay.Engine, string) {
	t.Helper()

	dir := t.TempDir()
	backingPath := filepath.Join(dir, "input.bin")

	if err := os.WriteFile(backingPath, backing, 0o644); err != nil {
		t.Fatalf("writing backing file: %v", err)
	}

	eng, err := overlay.Open(overlay.Options{
		BackingPath: backingPath,
		DiffPath:    filepath.Join(dir, "cow-diff"),
		ExtraPath:   filepath.Join(dir, "cow-extra"),
		BlockSize:   blockSize,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	return eng, dir
}

func mustRead(t *testing.T, eng *overlay.Engine, offset, size uint64) []byte {
	t.Helper()

	got, err := eng.Read(offset, size)
	if err != nil {
		t.Fatalf("Read(%d, %d): %v", offset, size, err)
	}

	return got
}

// writeTempFile writes data to name under dir and returns the full path.
func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}

	return path
}

func mustWrite(t *testing.T, eng *overlay.Engine, offset uint64, data []byte) {
	t.Helper()

	n, err := eng.Write(offset, data)
	if err != nil {
		t.Fatalf("Write(%d, %q): %v", offset, data, err)
	}

	if n != uint64(len(data)) {
		t.Fatalf("Write(%d, %q) = %d, want %d", offset, data, n, len(data))
	}
}
