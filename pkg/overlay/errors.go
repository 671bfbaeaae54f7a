package overlay

import "errors"

// Sentinel errors returned by the overlay engine.
//
// Callers should use [errors.Is] to classify returned errors:
//
//	eng, err := overlay.Open(opts)
//	if errors.Is(err, overlay.ErrCorrupt) {
//	    // delete both sidecars and mount again
//	}
var (
	// ErrCorrupt indicates the sidecars are damaged or mutually inconsistent:
	// only one of cow-diff/cow-extra exists, cow-diff's length doesn't match
	// its block size, or its nonzero slots aren't a dense permutation of
	// 1..M. Recovery is to delete both sidecars.
	ErrCorrupt = errors.New("overlay: corrupt")

	// ErrUnsupported is returned by [Engine.Truncate] for a shrink of the
	// logical size below N*B, which the format has no representation for.
	// The vfile adapter reports it as ENOTSUP, the same errno it returns for
	// permission and ownership changes.
	ErrUnsupported = errors.New("overlay: unsupported")

	// ErrBackingChanged is never returned by this implementation. It is
	// reserved for a future revision that stamps cow-diff with a hash of the
	// backing file's content and rejects mismatches on remount. Declared here
	// so callers can already write errors.Is(err, overlay.ErrBackingChanged)
	// branches against it.
	ErrBackingChanged = errors.New("overlay: backing file changed since mount")

	// ErrClosed is returned by any operation on an [Engine] after [Engine.Close].
	ErrClosed = errors.New("overlay: closed")
)
