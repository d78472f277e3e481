package zeroview

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/zcshare/pkg/fs"
	"github.com/calvinalkan/zcshare/pkg/lockchan"
)

// Locker is the part of a lock channel a reader needs.
// [*lockchan.Channel] implements it.
type Locker interface {
	AwaitRelease(ctx context.Context, target string) (time.Duration, error)
}

// Options configures [Open].
type Options struct {
	// Path is the data file. Required.
	Path string

	// Lock is consulted before every read. If nil, Open opens its own
	// channel from LockPath and the Lock* fields below.
	Lock Locker

	// LockPath is the lock file used when Lock is nil. One of Lock or
	// LockPath is required.
	LockPath string

	// LockVariant is the lock file format used when Lock is nil.
	LockVariant lockchan.Variant

	// PollInterval and MaxWait are passed to the lock channel opened when
	// Lock is nil. See [lockchan.Options].
	PollInterval time.Duration
	MaxWait      time.Duration

	// FS is used to open the data and lock files. Default is [fs.Real].
	FS fs.FS
}

// View is a read-only mapping of a data file plus a cursor.
//
// A View is safe for concurrent use, but the cursor is shared: goroutines
// that move it concurrently see each other's moves.
type View struct {
	_ [0]func() // prevent external construction

	mu     sync.Mutex
	f      fs.File
	data   []byte
	id     fs.Identity
	cursor int64
	closed bool

	path     string
	fsys     fs.FS
	lock     Locker
	ownLock  *lockchan.Channel
	lockWait time.Duration
}

// Open maps the file at opts.Path read-only.
//
// The path is made absolute so it matches the holder string a writer
// announces for the same file.
//
// Possible errors: [ErrInvalidInput], [ErrOpen] (including an empty file),
// [ErrStat], [ErrMap], and lock channel open errors.
func Open(opts Options) (*View, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	if opts.Lock == nil && opts.LockPath == "" {
		return nil, fmt.Errorf("lock or lock path is required: %w", ErrInvalidInput)
	}

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, opts.Path, err)
	}

	v := &View{path: path, fsys: opts.FS, lock: opts.Lock}

	if err := v.mapLocked(0); err != nil {
		return nil, err
	}

	if v.lock == nil {
		ch, err := lockchan.Open(lockchan.Options{
			Path:         opts.LockPath,
			Variant:      opts.LockVariant,
			PollInterval: opts.PollInterval,
			MaxWait:      opts.MaxWait,
			FS:           opts.FS,
		})
		if err != nil {
			_ = v.unmapLocked()

			return nil, err
		}

		v.lock = ch
		v.ownLock = ch
	}

	return v, nil
}

// Path returns the absolute path of the data file.
func (v *View) Path() string { return v.path }

// Len returns the mapped length in bytes. It is fixed when the view is
// opened; data a writer appends later needs a new view.
func (v *View) Len() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return int64(len(v.data))
}

// LockWait returns the total time this view spent waiting on the lock
// channel.
func (v *View) LockWait() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.lockWait
}

// Close unmaps the file and closes its descriptor, plus the lock channel if
// Open created it. Close is idempotent.
func (v *View) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}

	v.closed = true

	err := v.unmapLocked()

	if v.ownLock != nil {
		if lockErr := v.ownLock.Close(); lockErr != nil && err == nil {
			err = lockErr
		}

		v.ownLock = nil
	}

	return err
}

// mapLocked opens and maps length bytes of the file at v.path, or the whole
// file when length is 0. On success it replaces v.f, v.data and v.id without
// releasing the previous mapping.
func (v *View) mapLocked(length int64) error {
	f, err := v.fsys.Open(v.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpen, v.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("%w: %s: %w", ErrStat, v.path, err)
	}

	size := info.Size()
	if size == 0 {
		_ = f.Close()

		return fmt.Errorf("%w: %s: file is empty", ErrOpen, v.path)
	}

	if size > math.MaxInt {
		_ = f.Close()

		return fmt.Errorf("%w: %s: size %d exceeds address space", ErrMap, v.path, size)
	}

	if length > 0 {
		if size < length {
			_ = f.Close()

			return fmt.Errorf("%w: %s: size %d is below mapped length %d", ErrMap, v.path, size, length)
		}

		size = length
	}

	id, err := fs.IdentityOf(info)
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("%w: %s: %w", ErrStat, v.path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("%w: %s: %w", ErrMap, v.path, err)
	}

	v.f = f
	v.data = data
	v.id = id

	return nil
}

func (v *View) unmapLocked() error {
	var unmapErr error

	if v.data != nil {
		unmapErr = unix.Munmap(v.data)
		v.data = nil
	}

	var closeErr error

	if v.f != nil {
		closeErr = v.f.Close()
		v.f = nil
	}

	if unmapErr != nil {
		return fmt.Errorf("zeroview: %s: munmap: %w", v.path, unmapErr)
	}

	return closeErr
}

// revalidateLocked remaps the file when the path now names a different file
// (a reallocation swapped it). The mapped length never changes, so the cursor
// stays in range. A replacement shorter than the mapping is not mapped; the
// view keeps serving the file it already holds.
func (v *View) revalidateLocked() error {
	info, err := v.fsys.Stat(v.path)
	if os.IsNotExist(err) {
		// Unlinked without a replacement: keep serving the old mapping; the
		// inode stays alive while we hold it.
		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStat, v.path, err)
	}

	id, err := fs.IdentityOf(info)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStat, v.path, err)
	}

	if id == v.id {
		return nil
	}

	length := int64(len(v.data))

	if info.Size() < length {
		if log.V(1) {
			log.Infof("zeroview: %s: replacement has %d bytes, mapping holds %d; keeping old file", v.path, info.Size(), length)
		}

		return nil
	}

	if log.V(1) {
		log.Infof("zeroview: %s: file replaced, remapping %d bytes", v.path, length)
	}

	oldF, oldData := v.f, v.data

	// mapLocked only replaces v.f and v.data on success.
	if err := v.mapLocked(length); err != nil {
		return err
	}

	_ = unix.Munmap(oldData)
	_ = oldF.Close()

	return nil
}

// acquire runs the per-operation checks and returns with v.mu held. The
// caller must call v.mu.Unlock.
//
// The lock channel is waited on without holding v.mu so a long wait does not
// block Close or Len.
func (v *View) acquire(ctx context.Context) error {
	v.mu.Lock()

	if v.closed {
		v.mu.Unlock()

		return ErrClosed
	}

	if err := v.revalidateLocked(); err != nil {
		v.mu.Unlock()

		return err
	}

	v.mu.Unlock()

	waited, err := v.lock.AwaitRelease(ctx, v.path)

	v.mu.Lock()

	v.lockWait += waited

	if err != nil {
		v.mu.Unlock()

		return err
	}

	if v.closed {
		v.mu.Unlock()

		return ErrClosed
	}

	// A writer may have grown or swapped the file while we waited.
	if err := v.revalidateLocked(); err != nil {
		v.mu.Unlock()

		return err
	}

	return nil
}
