package overlay

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/andrewarrow/cowblock/pkg/fs"
)

// ErrMountLocked is returned by [Open] when another process already holds
// the advisory mount lock for this sidecar pair.
//
// This guards against a second mount attempt against the same cow-diff; it
// does not coordinate concurrent writers within a single mount, which remains
// out of scope.
var ErrMountLocked = errors.New("overlay: sidecars already locked by another mount")

// mountLock is an advisory exclusive lock on a dedicated lock file,
// acquired for the lifetime of an open [Engine].
type mountLock struct {
	f fs.File
}

// acquireMountLock takes a non-blocking exclusive flock on path+".lock",
// creating the lock file if needed.
func acquireMountLock(fsys fs.FS, path string) (*mountLock, error) {
	lockPath := path + ".lock"

	f, err := fsys.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, filePerm)
	if err != nil {
		return nil, fmt.Errorf("overlay: opening mount lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrMountLocked
		}

		return nil, fmt.Errorf("overlay: locking %q: %w", lockPath, err)
	}

	return &mountLock{f: f}, nil
}

// release unlocks and closes the lock file. The lock file itself is left on
// disk, matching the way cow-diff/cow-extra persist across unmounts.
func (l *mountLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}

	unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil

	return errors.Join(unlockErr, closeErr)
}
