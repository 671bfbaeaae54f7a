package overlay

import (
	"fmt"
	"os"
	"sync"

	"github.com/andrewarrow/cowblock/pkg/fs"
)

// DefaultBlockSize is used when [Options.BlockSize] is zero.
const DefaultBlockSize = 4096

const (
	filePerm           = 0o644
	fileCreateFlags    = os.O_RDWR | os.O_CREATE | os.O_EXCL
	fileReadWriteFlags = os.O_RDWR
)

// DiffSidecarName and ExtraSidecarName are the fixed sidecar file names used
// by the mount and inspection tools built on this engine.
const (
	DiffSidecarName  = "cow-diff"
	ExtraSidecarName = "cow-extra"
)

// Options configure [Open].
type Options struct {
	// BackingPath is the immutable source file.
	BackingPath string

	// DiffPath and ExtraPath are the two sidecar files. Both must either
	// exist or both be absent; exactly one existing is [ErrCorrupt].
	DiffPath  string
	ExtraPath string

	// BlockSize is the block granularity, a positive power of two. Zero
	// means [DefaultBlockSize]. Not persisted in the sidecars: remounting
	// with a different value against existing sidecars is unsupported and
	// produces undefined content.
	BlockSize uint32

	// FS is the filesystem the backing file and sidecars are opened
	// through. Nil means [fs.NewReal].
	FS fs.FS
}

// Engine is the overlay storage engine: it maps logical offsets to backing,
// diff, or extra storage, assembles reads, and routes writes into the
// correct store.
//
// All exported methods are safe for concurrent use; they serialize behind a
// single mutex covering the index, diff handle, extra handle, and E. There is
// no finer-grained concurrency: one mount is assumed to serve one cooperative
// client at a time.
type Engine struct {
	mu sync.Mutex

	blockSize uint32
	backing   *backingReader
	diff      *diffStore
	extra     *extraStore
	lock      *mountLock

	closed bool
}

// Open mounts the overlay engine over opts.BackingPath, creating fresh
// sidecars or resuming existing ones at opts.DiffPath/opts.ExtraPath.
func Open(opts Options) (*Engine, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	if blockSize == 0 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("overlay: block size %d is not a positive power of two", blockSize)
	}

	diffExists, err := fsys.Exists(opts.DiffPath)
	if err != nil {
		return nil, fmt.Errorf("overlay: checking %s: %w", opts.DiffPath, err)
	}

	extraExists, err := fsys.Exists(opts.ExtraPath)
	if err != nil {
		return nil, fmt.Errorf("overlay: checking %s: %w", opts.ExtraPath, err)
	}

	if diffExists != extraExists {
		return nil, fmt.Errorf("%w: exactly one of %s/%s exists", ErrCorrupt, opts.DiffPath, opts.ExtraPath)
	}

	lock, err := acquireMountLock(fsys, opts.DiffPath)
	if err != nil {
		return nil, err
	}

	backing, err := openBacking(fsys, opts.BackingPath, blockSize)
	if err != nil {
		_ = lock.release()
		return nil, err
	}

	diff, err := openDiffStore(fsys, opts.DiffPath, backing.n, blockSize, diffExists)
	if err != nil {
		_ = backing.close()
		_ = lock.release()
		return nil, err
	}

	var tail []byte
	if !extraExists {
		tail, err = backing.tail()
		if err != nil {
			_ = diff.close()
			_ = backing.close()
			_ = lock.release()
			return nil, err
		}
	}

	extra, err := openExtraStore(fsys, opts.ExtraPath, tail, extraExists)
	if err != nil {
		_ = diff.close()
		_ = backing.close()
		_ = lock.release()
		return nil, err
	}

	return &Engine{
		blockSize: blockSize,
		backing:   backing,
		diff:      diff,
		extra:     extra,
		lock:      lock,
	}, nil
}

// Size returns the current logical size: N*blockSize + len(cow-extra).
func (e *Engine) Size() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.size()
}

func (e *Engine) size() uint64 {
	return e.backing.n*uint64(e.blockSize) + e.extra.length
}

// BlockSize returns the configured block granularity B.
func (e *Engine) BlockSize() uint32 {
	return e.blockSize
}

// BlockCount returns N, the number of whole backing blocks.
func (e *Engine) BlockCount() uint64 {
	return e.backing.n
}

// DiffCount returns M, the number of distinct backing blocks currently
// overridden in the diff store.
func (e *Engine) DiffCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.diff.m
}

// ExtraLen returns E, the current length of the extra store.
func (e *Engine) ExtraLen() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.extra.length
}

// Read returns up to size bytes starting at offset, clamped to the current
// logical size. A range entirely past EOF returns (nil, nil).
func (e *Engine) Read(offset, size uint64) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	logicalSize := e.size()
	if offset >= logicalSize || size == 0 {
		return nil, nil
	}

	end := offset + size
	if end > logicalSize {
		end = logicalSize
	}

	boundary := e.backing.n * uint64(e.blockSize)

	out := make([]byte, 0, end-offset)

	if offset < boundary {
		diffEnd := end
		if diffEnd > boundary {
			diffEnd = boundary
		}

		buf, err := e.readDiffable(offset, diffEnd)
		if err != nil {
			return nil, err
		}

		out = append(out, buf...)
	}

	if end > boundary {
		tailStart := offset
		if tailStart < boundary {
			tailStart = boundary
		}

		buf, err := e.extra.read(tailStart-boundary, end-tailStart)
		if err != nil {
			return nil, err
		}

		out = append(out, buf...)
	}

	return out, nil
}

// readDiffable reads [start, end) from the backing/diff region, walking
// block by block.
func (e *Engine) readDiffable(start, end uint64) ([]byte, error) {
	out := make([]byte, 0, end-start)

	b := e.blockSize

	for pos := start; pos < end; {
		i := pos / uint64(b)
		blockStart := i * uint64(b)
		intraOff := uint32(pos - blockStart)

		blockEnd := blockStart + uint64(b)
		if blockEnd > end {
			blockEnd = end
		}

		length := uint32(blockEnd - pos)

		var block []byte
		var err error

		if e.diff.slot(i) == 0 {
			block, err = e.backing.readBlock(i, intraOff, length)
		} else {
			full, gerr := e.diff.getBlock(i)
			if gerr != nil {
				return nil, gerr
			}

			block = full[intraOff : intraOff+length]
			err = nil
		}

		if err != nil {
			return nil, err
		}

		out = append(out, block...)
		pos = blockEnd
	}

	return out, nil
}

// Write writes buf at offset, growing the logical size if the write extends
// past it. Writes always succeed in full or return an error; short writes
// are never produced.
func (e *Engine) Write(offset uint64, buf []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, ErrClosed
	}

	if len(buf) == 0 {
		return 0, nil
	}

	end := offset + uint64(len(buf))
	boundary := e.backing.n * uint64(e.blockSize)

	if offset < boundary {
		diffEnd := end
		if diffEnd > boundary {
			diffEnd = boundary
		}

		if err := e.writeDiffable(offset, diffEnd, buf); err != nil {
			return 0, err
		}
	}

	if end > boundary {
		tailStart := offset
		if tailStart < boundary {
			tailStart = boundary
		}

		tailBuf := buf[tailStart-offset:]

		if err := e.extra.write(tailStart-boundary, tailBuf); err != nil {
			return 0, err
		}
	}

	return uint64(len(buf)), nil
}

// writeDiffable applies buf's contribution to [start, end), which lies
// entirely within the backing-block region, walking block by block.
func (e *Engine) writeDiffable(start, end uint64, buf []byte) error {
	b := uint64(e.blockSize)

	for pos := start; pos < end; {
		i := pos / b
		blockStart := i * b
		blockEndAligned := blockStart + b

		segEnd := end
		if segEnd > blockEndAligned {
			segEnd = blockEndAligned
		}

		fullBlock := blockStart == pos && segEnd == blockEndAligned

		var newBlock []byte

		if fullBlock {
			newBlock = buf[blockStart-start : segEnd-start]
		} else {
			var err error

			if e.diff.slot(i) != 0 {
				newBlock, err = e.diff.getBlock(i)
			} else {
				newBlock, err = e.backing.readBlock(i, 0, e.blockSize)
			}

			if err != nil {
				return err
			}

			newBlock = append([]byte(nil), newBlock...)

			intraStart := pos - blockStart
			intraEnd := segEnd - blockStart
			copy(newBlock[intraStart:intraEnd], buf[pos-start:segEnd-start])
		}

		if err := e.diff.overrideBlock(i, newBlock); err != nil {
			return err
		}

		pos = segEnd
	}

	return nil
}

// Truncate grows or shrinks the extra region. Shrinking into the
// backing-block region ([size] < N*blockSize) returns [ErrUnsupported]: the
// diff/index design has no representation for a hole within the
// backing-block region.
func (e *Engine) Truncate(size uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	boundary := e.backing.n * uint64(e.blockSize)

	if size < boundary {
		return fmt.Errorf("%w: truncate below N*blockSize (%d < %d)", ErrUnsupported, size, boundary)
	}

	return e.extra.truncate(size - boundary)
}

// Sync flushes the diff and extra sidecars to stable storage. The backing
// file is read-only and never needs syncing.
func (e *Engine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	if err := e.diff.sync(); err != nil {
		return err
	}

	return e.extra.sync()
}

// Close releases the engine's file handles and its mount lock. Close is not
// idempotent-safe to call twice with distinct semantics — a second call
// returns [ErrClosed].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	e.closed = true

	diffErr := e.diff.close()
	extraErr := e.extra.close()
	backingErr := e.backing.close()
	lockErr := e.lock.release()

	if diffErr != nil {
		return diffErr
	}

	if extraErr != nil {
		return extraErr
	}

	if backingErr != nil {
		return backingErr
	}

	return lockErr
}
