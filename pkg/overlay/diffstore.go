package overlay

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andrewarrow/cowblock/pkg/fs"
)

// diffStore manages the cow-diff sidecar: an in-memory index of N
// big-endian uint32 slots mirrored on disk, followed by M append-only
// B-byte payload records.
//
// A zero slot means "read BackingBlock[i]"; a nonzero slot k means "read
// payload record k-1". Slots are assigned once, in first-touch order, and
// never reused for a different block.
type diffStore struct {
	f fs.File

	blockSize uint32
	n         uint64
	index     []uint32 // len == n
	m         uint64
}

const diffSlotSize = 4 // bytes per big-endian uint32 slot

// openDiffStore opens or creates the cow-diff sidecar for n backing blocks.
//
// A new file is created pre-sized to 4*n zero bytes. An existing file's
// length must be at least 4*n with (length-4*n) a multiple of blockSize, and
// its nonzero slots must be exactly the dense permutation {1..M}; any
// violation is [ErrCorrupt].
func openDiffStore(fsys fs.FS, path string, n uint64, blockSize uint32, existed bool) (*diffStore, error) {
	indexBytes := n * diffSlotSize

	if !existed {
		f, err := fsys.OpenFile(path, fileCreateFlags, filePerm)
		if err != nil {
			return nil, fmt.Errorf("overlay: creating cow-diff: %w", err)
		}

		zeros := make([]byte, indexBytes)
		if _, err := f.Write(zeros); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("overlay: initializing cow-diff index: %w", err)
		}

		return &diffStore{f: f, blockSize: blockSize, n: n, index: make([]uint32, n), m: 0}, nil
	}

	f, err := fsys.OpenFile(path, fileReadWriteFlags, filePerm)
	if err != nil {
		return nil, fmt.Errorf("overlay: opening cow-diff: %w", err)
	}

	ds, err := loadDiffStore(f, n, blockSize, indexBytes)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return ds, nil
}

func loadDiffStore(f fs.File, n uint64, blockSize uint32, indexBytes uint64) (*diffStore, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("overlay: stat cow-diff: %w", err)
	}

	length := uint64(info.Size())

	if length < indexBytes {
		return nil, fmt.Errorf("%w: cow-diff is %d bytes, want at least %d", ErrCorrupt, length, indexBytes)
	}

	payloadBytes := length - indexBytes
	if payloadBytes%uint64(blockSize) != 0 {
		return nil, fmt.Errorf("%w: cow-diff payload region is %d bytes, not a multiple of block size %d", ErrCorrupt, payloadBytes, blockSize)
	}

	m := payloadBytes / uint64(blockSize)

	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("overlay: seeking cow-diff: %w", err)
	}

	raw := make([]byte, indexBytes)
	if indexBytes > 0 {
		if _, err := io.ReadFull(f, raw); err != nil {
			return nil, fmt.Errorf("overlay: reading cow-diff index: %w", err)
		}
	}

	index := make([]uint32, n)
	seen := make(map[uint32]bool, m)
	maxSlot := uint32(0)

	for i := range index {
		slot := binary.BigEndian.Uint32(raw[uint64(i)*diffSlotSize:])
		index[i] = slot

		if slot == 0 {
			continue
		}

		if seen[slot] {
			return nil, fmt.Errorf("%w: cow-diff slot value %d used by more than one block", ErrCorrupt, slot)
		}

		seen[slot] = true

		if slot > maxSlot {
			maxSlot = slot
		}
	}

	if uint64(maxSlot) != m || uint64(len(seen)) != m {
		return nil, fmt.Errorf("%w: cow-diff has %d payload records but slots reference %d distinct, max %d", ErrCorrupt, m, len(seen), maxSlot)
	}

	return &diffStore{f: f, blockSize: blockSize, n: n, index: index, m: m}, nil
}

// slot returns the current DiffIndex entry for block i.
func (d *diffStore) slot(i uint64) uint32 {
	return d.index[i]
}

// getBlock returns the current B-byte contents of block i from the payload.
// Precondition: slot(i) != 0.
func (d *diffStore) getBlock(i uint64) ([]byte, error) {
	k := d.index[i]
	if k == 0 {
		return nil, fmt.Errorf("overlay: getBlock(%d) called on unmodified block", i)
	}

	off := int64(d.n)*diffSlotSize + int64(k-1)*int64(d.blockSize)

	if _, err := d.f.Seek(off, 0); err != nil {
		return nil, fmt.Errorf("overlay: seeking cow-diff payload: %w", err)
	}

	buf := make([]byte, d.blockSize)
	if _, err := io.ReadFull(d.f, buf); err != nil {
		return nil, fmt.Errorf("overlay: reading cow-diff payload record %d: %w", k-1, err)
	}

	return buf, nil
}

// overrideBlock replaces block i's contents with data (exactly blockSize
// bytes), first-touch allocating a new payload record if needed.
//
// On first touch, the payload record is written before the index slot is
// updated, so a crash between the two leaves a dangling unreferenced record
// rather than an index slot pointing past EOF.
func (d *diffStore) overrideBlock(i uint64, data []byte) error {
	if uint32(len(data)) != d.blockSize {
		return fmt.Errorf("overlay: overrideBlock(%d) got %d bytes, want %d", i, len(data), d.blockSize)
	}

	k := d.index[i]

	if k != 0 {
		off := int64(d.n)*diffSlotSize + int64(k-1)*int64(d.blockSize)
		return d.writePayloadAt(off, data)
	}

	newM := d.m + 1
	off := int64(d.n)*diffSlotSize + int64(d.m)*int64(d.blockSize)

	if err := d.writePayloadAt(off, data); err != nil {
		return err
	}

	if err := d.writeSlot(i, uint32(newM)); err != nil {
		return err
	}

	d.index[i] = uint32(newM)
	d.m = newM

	return nil
}

func (d *diffStore) writePayloadAt(off int64, data []byte) error {
	if _, err := d.f.Seek(off, 0); err != nil {
		return fmt.Errorf("overlay: seeking cow-diff payload: %w", err)
	}

	if _, err := d.f.Write(data); err != nil {
		return fmt.Errorf("overlay: writing cow-diff payload: %w", err)
	}

	return nil
}

func (d *diffStore) writeSlot(i uint64, value uint32) error {
	buf := make([]byte, diffSlotSize)
	binary.BigEndian.PutUint32(buf, value)

	if _, err := d.f.Seek(int64(i)*diffSlotSize, 0); err != nil {
		return fmt.Errorf("overlay: seeking cow-diff index: %w", err)
	}

	if _, err := d.f.Write(buf); err != nil {
		return fmt.Errorf("overlay: writing cow-diff index slot %d: %w", i, err)
	}

	return nil
}

func (d *diffStore) sync() error {
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("overlay: syncing cow-diff: %w", err)
	}

	return nil
}

func (d *diffStore) close() error {
	return d.f.Close()
}
