package fs

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
)

// ChaosConfig controls fault injection probabilities.
//
// Each rate is a float64 from 0.0 (never) to 1.0 (always). The zero value
// disables all fault injection.
type ChaosConfig struct {
	// WriteFailRate controls how often File.Write fails entirely, writing
	// zero bytes and returning an error.
	WriteFailRate float64

	// ReadFailRate controls how often File.Read fails entirely, returning
	// zero bytes and an error.
	ReadFailRate float64

	// SyncFailRate controls how often File.Sync fails, simulating a delayed
	// write error surfacing only at fsync time.
	SyncFailRate float64
}

// ErrInjected is wrapped by every error [Chaos] manufactures.
var ErrInjected = errors.New("fs: injected fault")

// Chaos wraps an [FS] and injects faults into its open files according to
// [ChaosConfig], for exercising Io error paths without needing a real
// failing disk.
//
// Chaos is safe for concurrent use; its random source is shared and locked.
type Chaos struct {
	fs   FS
	cfg  ChaosConfig
	mu   sync.Mutex
	rand *rand.Rand
}

// NewChaos wraps fs with fault injection governed by cfg.
func NewChaos(fs FS, cfg ChaosConfig, seed uint64) *Chaos {
	return &Chaos{
		fs:   fs,
		cfg:  cfg,
		rand: rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (c *Chaos) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rand.Float64() < rate
}

func (c *Chaos) wrap(f File) File {
	if f == nil {
		return nil
	}

	return &chaosFile{chaos: c, f: f}
}

func (c *Chaos) Open(path string) (File, error) {
	f, err := c.fs.Open(path)
	return c.wrap(f), err
}

func (c *Chaos) Create(path string) (File, error) {
	f, err := c.fs.Create(path)
	return c.wrap(f), err
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := c.fs.OpenFile(path, flag, perm)
	return c.wrap(f), err
}

func (c *Chaos) ReadFile(path string) ([]byte, error) { return c.fs.ReadFile(path) }

func (c *Chaos) WriteFile(path string, data []byte, perm os.FileMode) error {
	return c.fs.WriteFile(path, data, perm)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) { return c.fs.ReadDir(path) }

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error { return c.fs.MkdirAll(path, perm) }

func (c *Chaos) Stat(path string) (os.FileInfo, error) { return c.fs.Stat(path) }

func (c *Chaos) Exists(path string) (bool, error) { return c.fs.Exists(path) }

func (c *Chaos) Remove(path string) error { return c.fs.Remove(path) }

func (c *Chaos) RemoveAll(path string) error { return c.fs.RemoveAll(path) }

func (c *Chaos) Rename(oldpath, newpath string) error { return c.fs.Rename(oldpath, newpath) }

// chaosFile wraps a [File], injecting faults on Read/Write/Sync per its
// parent [Chaos]'s configured rates. All other methods pass through.
type chaosFile struct {
	chaos *Chaos
	f     File
}

func (f *chaosFile) Read(p []byte) (int, error) {
	if f.chaos.roll(f.chaos.cfg.ReadFailRate) {
		return 0, fmt.Errorf("%w: read", ErrInjected)
	}

	return f.f.Read(p)
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.chaos.roll(f.chaos.cfg.WriteFailRate) {
		return 0, fmt.Errorf("%w: write", ErrInjected)
	}

	return f.f.Write(p)
}

func (f *chaosFile) Sync() error {
	if f.chaos.roll(f.chaos.cfg.SyncFailRate) {
		return fmt.Errorf("%w: sync", ErrInjected)
	}

	return f.f.Sync()
}

func (f *chaosFile) Close() error                       { return f.f.Close() }
func (f *chaosFile) Seek(o int64, w int) (int64, error) { return f.f.Seek(o, w) }
func (f *chaosFile) Fd() uintptr                        { return f.f.Fd() }
func (f *chaosFile) Stat() (os.FileInfo, error)         { return f.f.Stat() }
func (f *chaosFile) Chmod(mode os.FileMode) error       { return f.f.Chmod(mode) }
func (f *chaosFile) Truncate(size int64) error          { return f.f.Truncate(size) }

// Compile-time interface checks.
var (
	_ FS   = (*Chaos)(nil)
	_ File = (*chaosFile)(nil)
)
