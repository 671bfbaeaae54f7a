// Package overlay implements the copy-on-write overlay storage engine
// described by the cowblock design: a read/write logical file built from an
// immutable backing file plus two sidecar files that record every
// divergence from it.
//
// # Basic usage
//
//	eng, err := overlay.Open(overlay.Options{
//	    BackingPath: "input.bin",
//	    DiffPath:    "cow-diff",
//	    ExtraPath:   "cow-extra",
//	    BlockSize:   4096,
//	})
//	if err != nil {
//	    // handle [ErrCorrupt] by deleting both sidecars and remounting fresh
//	}
//	defer eng.Close()
//
//	data, err := eng.Read(0, 4096)
//	n, err := eng.Write(0, []byte("hello"))
//
// # On-disk format
//
// cow-diff holds N big-endian uint32 slots (one per backing block) followed
// by M B-byte payload records; a zero slot means "read from backing", a
// nonzero slot k means "read payload record k-1". cow-extra is a raw byte
// log for everything at or beyond the last whole backing block, seeded at
// creation with the backing file's trailing partial block.
//
// # Concurrency
//
// An [Engine] serializes all reads and writes behind a single mutex; there
// is no separate reader/writer distinction. This matches the design's single
// exclusive lock over the combined (index, diff handle, extra handle) state.
//
// # Error handling
//
// [ErrCorrupt] at [Open] means the sidecars are inconsistent with each other
// or with the backing file's block count; recovery is to delete both
// sidecars (which resets the logical file to the backing file) and mount
// again. [ErrUnsupported] is returned for operations the format has no
// representation for (shrink-truncate into the backing-block region).
package overlay
