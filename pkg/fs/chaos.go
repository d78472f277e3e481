package fs

import (
	"errors"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.Open and FS.OpenFile fail.
	// Read-only opens fail with EACCES or EIO; write opens may also fail
	// with ENOSPC or EROFS.
	OpenFailRate float64

	// WriteFailRate controls how often File.Write and File.WriteAt fail
	// entirely, writing zero bytes (EIO, ENOSPC, EDQUOT or EROFS).
	WriteFailRate float64

	// PartialWriteRate controls how often File.Write and File.WriteAt write
	// a non-empty prefix and then fail with EIO.
	PartialWriteRate float64

	// SyncFailRate controls how often File.Sync fails (EIO, ENOSPC, EDQUOT
	// or EROFS).
	SyncFailRate float64

	// TruncateFailRate controls how often File.Truncate fails (EIO, ENOSPC,
	// EFBIG).
	TruncateFailRate float64

	// StatFailRate controls how often FS.Stat and File.Stat fail with EIO.
	StatFailRate float64

	// RenameFailRate controls how often FS.Rename fails with an
	// [*os.LinkError] carrying EIO or EXDEV.
	RenameFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	WriteFails    int64
	PartialWrites int64
	SyncFails     int64
	TruncateFails int64
	StatFails     int64
	RenameFails   int64
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// Injected errno-style failures are an [*fs.PathError] (or [*os.LinkError]
// for rename) with a real [syscall.Errno], wrapped in chaosError so
// [errors.Is] keeps working and [IsChaosErr] can tell them from real OS
// errors.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
// Returns false if err is nil.
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects failures for testing.
//
// It is a "real filesystem + fault injection" wrapper, not a filesystem
// simulator: each call independently decides whether to inject, and
// non-injected calls go straight to the wrapped [FS]. Chaos never injects
// ENOENT or EINTR.
//
// File handles returned by Chaos keep injecting faults for Write, WriteAt,
// Sync, Truncate and Stat. File.Fd is passed through so mmap keeps working.
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex

	openFails     atomic.Int64
	writeFails    atomic.Int64
	partialWrites atomic.Int64
	syncFails     atomic.Int64
	truncateFails atomic.Int64
	statFails     atomic.Int64
	renameFails   atomic.Int64
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config *ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	return &Chaos{
		fs:     underlying,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		config: *config,
	}
}

// SetMode updates [Chaos] behavior. Safe to call concurrently with
// filesystem operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialWrites: c.partialWrites.Load(),
		SyncFails:     c.syncFails.Load(),
		TruncateFails: c.truncateFails.Load(),
		StatFails:     c.statFails.Load(),
		RenameFails:   c.renameFails.Load(),
	}
}

// Open opens a file for reading with fault injection.
func (c *Chaos) Open(path string) (File, error) {
	return c.OpenFile(path, os.O_RDONLY, 0)
}

// OpenFile opens a file with the specified flags and permissions with fault injection.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		errnos := []syscall.Errno{syscall.EACCES, syscall.EIO}
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
			errnos = append(errnos, syscall.ENOSPC, syscall.EROFS)
		}

		return nil, pathError("open", path, c.pick(errnos))
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// A passthrough wrapper for [FS.ReadFile].
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	return c.fs.ReadFile(path)
}

// A passthrough wrapper for [FS.MkdirAll].
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

// Stat returns file info with fault injection.
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, pathError("stat", path, syscall.EIO)
	}

	return c.fs.Stat(path)
}

// Exists reports whether path exists, with Stat fault injection.
func (c *Chaos) Exists(path string) (bool, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return false, pathError("stat", path, syscall.EIO)
	}

	return c.fs.Exists(path)
}

// A passthrough wrapper for [FS.Remove].
func (c *Chaos) Remove(path string) error {
	return c.fs.Remove(path)
}

// Rename renames a file with fault injection.
func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.should(c.config.RenameFailRate) {
		c.renameFails.Add(1)

		return &chaosError{Err: &os.LinkError{
			Op:  "rename",
			Old: oldpath,
			New: newpath,
			Err: c.pick([]syscall.Errno{syscall.EIO, syscall.EXDEV}),
		}}
	}

	return c.fs.Rename(oldpath, newpath)
}

func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) == ChaosModeNoOp || rate <= 0 {
		return false
	}

	if rate >= 1 {
		return true
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) pick(errnos []syscall.Errno) syscall.Errno {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return errnos[c.rng.IntN(len(errnos))]
}

func (c *Chaos) randIntn(n int) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.IntN(n)
}

func pathError(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

// chaosFile wraps a [File] opened through [Chaos].
type chaosFile struct {
	File

	chaos *Chaos
	path  string
}

var writeErrnos = []syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}

func (f *chaosFile) Write(p []byte) (int, error) {
	n, err, injected := f.injectWrite(p, func(b []byte) (int, error) { return f.File.Write(b) })
	if injected {
		return n, err
	}

	return f.File.Write(p)
}

func (f *chaosFile) WriteAt(p []byte, off int64) (int, error) {
	n, err, injected := f.injectWrite(p, func(b []byte) (int, error) { return f.File.WriteAt(b, off) })
	if injected {
		return n, err
	}

	return f.File.WriteAt(p, off)
}

// injectWrite decides whether to fail a write. For a partial write it
// performs the prefix write through write and reports the injected error.
func (f *chaosFile) injectWrite(p []byte, write func([]byte) (int, error)) (int, error, bool) {
	c := f.chaos

	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return 0, pathError("write", f.path, c.pick(writeErrnos)), true
	}

	if len(p) > 1 && c.should(c.config.PartialWriteRate) {
		c.partialWrites.Add(1)

		cutoff := c.randIntn(len(p)-1) + 1

		n, err := write(p[:cutoff])
		if err != nil {
			return n, err, true
		}

		return n, pathError("write", f.path, syscall.EIO), true
	}

	return 0, nil, false
}

func (f *chaosFile) Sync() error {
	c := f.chaos
	if c.should(c.config.SyncFailRate) {
		c.syncFails.Add(1)

		return pathError("sync", f.path, c.pick(writeErrnos))
	}

	return f.File.Sync()
}

func (f *chaosFile) Truncate(size int64) error {
	c := f.chaos
	if c.should(c.config.TruncateFailRate) {
		c.truncateFails.Add(1)

		return pathError("truncate", f.path, c.pick([]syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EFBIG}))
	}

	return f.File.Truncate(size)
}

func (f *chaosFile) Stat() (os.FileInfo, error) {
	c := f.chaos
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, pathError("stat", f.path, syscall.EIO)
	}

	return f.File.Stat()
}

// Compile-time interface checks.
var (
	_ FS        = (*Chaos)(nil)
	_ File      = (*chaosFile)(nil)
	_ io.Writer = (*chaosFile)(nil)
)
