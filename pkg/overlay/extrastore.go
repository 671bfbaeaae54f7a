package overlay

import (
	"fmt"
	"io"

	"github.com/andrewarrow/cowblock/pkg/fs"
)

// extraStore manages the cow-extra sidecar: a dense, header-less byte log
// holding every logical byte at or beyond the last whole backing block. Byte
// j of the store is logical offset n*blockSize + j.
//
// The file's on-disk length is always exactly E: a write past the end first
// zero-fills the gap with [fs.File.Truncate] and then extends the file by
// writing, and an explicit truncate (growth or shrink) goes through
// [fs.File.Truncate], so the sidecar never holds stale trailing bytes beyond
// the current logical size.
type extraStore struct {
	f      fs.File
	length uint64
}

// openExtraStore opens or creates the cow-extra sidecar. A new file is
// seeded with tail (the backing file's trailing partial block, possibly
// empty); an existing file is taken as-is, with length set from its size.
func openExtraStore(fsys fs.FS, path string, tail []byte, existed bool) (*extraStore, error) {
	if !existed {
		f, err := fsys.OpenFile(path, fileCreateFlags, filePerm)
		if err != nil {
			return nil, fmt.Errorf("overlay: creating cow-extra: %w", err)
		}

		if len(tail) > 0 {
			if _, err := f.Write(tail); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("overlay: seeding cow-extra with backing tail: %w", err)
			}
		}

		return &extraStore{f: f, length: uint64(len(tail))}, nil
	}

	f, err := fsys.OpenFile(path, fileReadWriteFlags, filePerm)
	if err != nil {
		return nil, fmt.Errorf("overlay: opening cow-extra: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("overlay: stat cow-extra: %w", err)
	}

	return &extraStore{f: f, length: uint64(info.Size())}, nil
}

// read returns bytes [offset, offset+length), short if that range runs past
// the end of the store (matching the virtual-file read contract: short
// reads are a legal reply, not an error).
func (e *extraStore) read(offset, length uint64) ([]byte, error) {
	if offset >= e.length || length == 0 {
		return nil, nil
	}

	if offset+length > e.length {
		length = e.length - offset
	}

	if _, err := e.f.Seek(int64(offset), 0); err != nil {
		return nil, fmt.Errorf("overlay: seeking cow-extra: %w", err)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(e.f, buf); err != nil {
		return nil, fmt.Errorf("overlay: reading cow-extra: %w", err)
	}

	return buf, nil
}

// write overwrites or appends data at offset, zero-filling any gap if
// offset is past the current end (via [fs.File.Truncate]), and extends
// length as needed.
func (e *extraStore) write(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if offset > e.length {
		if err := e.f.Truncate(int64(offset)); err != nil {
			return fmt.Errorf("overlay: extending cow-extra: %w", err)
		}

		e.length = offset
	}

	if _, err := e.f.Seek(int64(offset), 0); err != nil {
		return fmt.Errorf("overlay: seeking cow-extra: %w", err)
	}

	if _, err := e.f.Write(data); err != nil {
		return fmt.Errorf("overlay: writing cow-extra: %w", err)
	}

	if end := offset + uint64(len(data)); end > e.length {
		e.length = end
	}

	return nil
}

// truncate sets the store's length, growing with zero bytes or shrinking.
func (e *extraStore) truncate(length uint64) error {
	if err := e.f.Truncate(int64(length)); err != nil {
		return fmt.Errorf("overlay: truncating cow-extra: %w", err)
	}

	e.length = length

	return nil
}

func (e *extraStore) sync() error {
	if err := e.f.Sync(); err != nil {
		return fmt.Errorf("overlay: syncing cow-extra: %w", err)
	}

	return nil
}

func (e *extraStore) close() error {
	return e.f.Close()
}
