package overlay

import (
	"fmt"
	"io"

	"github.com/andrewarrow/cowblock/pkg/fs"
)

// backingReader is a random-access read-only handle on the immutable backing
// file. backingSize, N (whole block count) and T (tail length) are sampled
// once at open and never change.
type backingReader struct {
	f fs.File

	blockSize   uint32
	backingSize uint64
	n           uint64 // backingSize / blockSize
	t           uint32 // backingSize % blockSize
}

// openBacking opens path read-only and freezes its size.
func openBacking(fsys fs.FS, path string, blockSize uint32) (*backingReader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("overlay: opening backing file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("overlay: stat backing file: %w", err)
	}

	size := uint64(info.Size())

	return &backingReader{
		f:           f,
		blockSize:   blockSize,
		backingSize: size,
		n:           size / uint64(blockSize),
		t:           uint32(size % uint64(blockSize)),
	}, nil
}

// readBlock reads length bytes starting at intraOffset within BackingBlock[i].
//
// Precondition: i < n and intraOffset+length <= blockSize. A missing backing
// block means the backing file changed size beneath the mount; callers
// surface any failure here as an Io error and do not retry.
func (b *backingReader) readBlock(i uint64, intraOffset, length uint32) ([]byte, error) {
	if i >= b.n {
		return nil, fmt.Errorf("overlay: backing block %d out of range (n=%d)", i, b.n)
	}

	if uint64(intraOffset)+uint64(length) > uint64(b.blockSize) {
		return nil, fmt.Errorf("overlay: backing read [%d,%d) exceeds block size %d", intraOffset, intraOffset+length, b.blockSize)
	}

	buf := make([]byte, length)

	off := int64(i)*int64(b.blockSize) + int64(intraOffset)

	n, err := b.f.Seek(off, 0)
	if err != nil {
		return nil, fmt.Errorf("overlay: seeking backing file: %w", err)
	}

	if n != off {
		return nil, fmt.Errorf("overlay: seek landed at %d, want %d", n, off)
	}

	if _, err := io.ReadFull(b.f, buf); err != nil {
		return nil, fmt.Errorf("overlay: reading backing block %d: %w", i, err)
	}

	return buf, nil
}

// tail returns the backing file's final T bytes, used to seed a freshly
// created cow-extra.
func (b *backingReader) tail() ([]byte, error) {
	if b.t == 0 {
		return nil, nil
	}

	off := int64(b.n) * int64(b.blockSize)

	if _, err := b.f.Seek(off, 0); err != nil {
		return nil, fmt.Errorf("overlay: seeking backing tail: %w", err)
	}

	buf := make([]byte, b.t)
	if _, err := io.ReadFull(b.f, buf); err != nil {
		return nil, fmt.Errorf("overlay: reading backing tail: %w", err)
	}

	return buf, nil
}

func (b *backingReader) close() error {
	return b.f.Close()
}
