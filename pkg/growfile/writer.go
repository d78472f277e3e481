// Package growfile appends to a pre-allocated data file that grows in fixed
// block increments, announcing every write on a lock channel so readers
// holding zero-copy views wait it out.
//
// Capacity is always the file size rounded up to the block size. The logical
// size ([Stats.Written]) starts at zero on [Attach]: a writer fills the
// pre-allocated region from the start.
package growfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/golang/glog"
	"github.com/johncgriffin/overflow"

	"github.com/calvinalkan/zcshare/pkg/fs"
	"github.com/calvinalkan/zcshare/pkg/lockchan"
)

// Stats is a snapshot of a writer's counters.
type Stats struct {
	Written  int64 // bytes written since Attach
	Capacity int64 // bytes the file may hold before the next growth step
	Grows    int   // growth steps taken
}

// Writer appends to a data file.
//
// A Writer is safe for concurrent use; writes are serialized.
type Writer struct {
	_ [0]func() // prevent external construction

	mu       sync.Mutex
	f        fs.File // nil after a reallocation whose reopen failed
	written  int64
	capacity int64
	grows    int
	closed   bool

	path      string
	fsys      fs.FS
	lock      Lock
	ownLock   *lockchan.Channel
	blockSize int64
	growth    GrowthPolicy
	realloc   Reallocator
	syncData  bool
}

// Attach opens the data file for writing.
//
// The path is made absolute; it is the holder string announced on the lock
// channel.
//
// Writes start at offset 0 whatever the file already holds, so attaching to
// a file with data overwrites that data from the beginning. Capacity is the
// current size rounded up to the block size.
//
// Possible errors: [ErrInvalidInput], [ErrOpen], [ErrStat], and lock channel
// open errors.
func Attach(opts Options) (*Writer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, opts.Path, err)
	}

	w := &Writer{
		path:      path,
		fsys:      opts.FS,
		lock:      opts.Lock,
		blockSize: opts.BlockSize,
		growth:    opts.Growth,
		realloc:   opts.Reallocator,
		syncData:  opts.SyncData,
	}

	if err := w.openLocked(); err != nil {
		return nil, err
	}

	if w.lock == nil {
		ch, err := lockchan.Open(lockchan.Options{
			Path:    opts.LockPath,
			Variant: opts.LockVariant,
			FS:      opts.FS,
		})
		if err != nil {
			_ = w.f.Close()

			return nil, err
		}

		w.lock = ch
		w.ownLock = ch
	}

	if log.V(1) {
		log.Infof("growfile: %s: attached, capacity %d, block %d, %s", w.path, w.capacity, w.blockSize, w.growth)
	}

	return w, nil
}

// Path returns the absolute path of the data file.
func (w *Writer) Path() string { return w.path }

// Stats returns the current counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{Written: w.written, Capacity: w.capacity, Grows: w.grows}
}

// Write implements [io.Writer]. See [Writer.WriteContext].
func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext writes p at the current logical end of the file.
//
// It announces the file on the lock channel, grows capacity until p fits,
// writes, advances the logical size by the bytes actually transferred and
// clears the lock channel. The clear runs on every path once the announce
// succeeded; a clear failure is joined into the returned error.
//
// ctx bounds growth steps only.
//
// Possible errors: [ErrGrowth], [ErrWrite], [ErrClosed], lock channel errors.
func (w *Writer) WriteContext(ctx context.Context, p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	if len(p) == 0 {
		return 0, nil
	}

	if err := w.lock.Announce(w.path); err != nil {
		return 0, fmt.Errorf("announce %s: %w", w.path, err)
	}

	defer func() {
		if clearErr := w.lock.Clear(w.path); clearErr != nil {
			err = errors.Join(err, fmt.Errorf("clear %s: %w", w.path, clearErr))
		}
	}()

	end, ok := overflow.Add64(w.written, int64(len(p)))
	if !ok {
		return 0, fmt.Errorf("%w: %s: size overflows int64", ErrGrowth, w.path)
	}

	for end > w.capacity {
		if err := w.growLocked(ctx); err != nil {
			return 0, err
		}
	}

	if w.f == nil {
		if err := w.openLocked(); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrWrite, err)
		}
	}

	n, err = w.f.WriteAt(p, w.written)
	w.written += int64(n)

	if err != nil {
		return n, fmt.Errorf("%w: %s: %w", ErrWrite, w.path, err)
	}

	if w.syncData {
		if err := w.f.Sync(); err != nil {
			return n, fmt.Errorf("%w: %s: fsync: %w", ErrWrite, w.path, err)
		}
	}

	return n, nil
}

// Sync flushes the data file to storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if w.f == nil {
		return nil
	}

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("%w: %s: fsync: %w", ErrWrite, w.path, err)
	}

	return nil
}

// Close closes the data file, and the lock channel if Attach opened it.
// Close does not touch the lock channel's holder. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	var errs []error

	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}

	if w.ownLock != nil {
		errs = append(errs, w.ownLock.Close())
		w.ownLock = nil
	}

	return errors.Join(errs...)
}

// openLocked opens the data file and derives capacity from its size.
func (w *Writer) openLocked() error {
	f, err := w.fsys.OpenFile(w.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpen, w.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("%w: %s: %w", ErrStat, w.path, err)
	}

	capacity, ok := roundUp(info.Size(), w.blockSize)
	if !ok {
		_ = f.Close()

		return fmt.Errorf("%w: %s: capacity overflows int64", ErrStat, w.path)
	}

	w.f = f
	w.capacity = capacity

	return nil
}

// roundUp rounds size up to a multiple of block.
func roundUp(size, block int64) (int64, bool) {
	rem := size % block
	if rem == 0 {
		return size, true
	}

	return overflow.Add64(size, block-rem)
}
