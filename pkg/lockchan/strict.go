package lockchan

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/zcshare/pkg/fs"
)

// Strict record layout:
//
//	0x000  version  uint64 (little-endian, even = stable, odd = being written)
//	0x008  holder   [HolderBufferSize]byte, newline or NUL terminated
const (
	offVersion = 0
	offHolder  = versionSize
)

// strictBackend keeps a shared read-write mapping of the record so the
// version counter can be loaded and stored atomically across processes.
type strictBackend struct {
	f    fs.File
	data []byte
}

func openStrict(f fs.File) (*strictBackend, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	if info.Size() < RecordSize {
		// Zero bytes decode as version 0, no holder.
		if err := f.Truncate(RecordSize); err != nil {
			return nil, fmt.Errorf("extend to record size: %w", err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, RecordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &strictBackend{f: f, data: data}, nil
}

func (b *strictBackend) handle() fs.File { return b.f }

func (b *strictBackend) close() error {
	var unmapErr error
	if b.data != nil {
		unmapErr = unix.Munmap(b.data)
		b.data = nil
	}

	closeErr := b.f.Close()
	if unmapErr != nil {
		return fmt.Errorf("munmap: %w", unmapErr)
	}

	return closeErr
}

func (b *strictBackend) announce(holder string) error {
	return b.update(func(buf []byte) {
		n := copy(buf, holder)
		buf[n] = '\n'
		clear(buf[n+1:])
	})
}

func (b *strictBackend) clear(int) error {
	return b.update(func(buf []byte) {
		clear(buf)
	})
}

// update runs fn over the holder buffer between an odd and an even version
// store, then flushes the record.
func (b *strictBackend) update(fn func(buf []byte)) error {
	version := b.data[offVersion : offVersion+versionSize]

	v := atomicLoadUint64(version)

	// A crashed writer can leave the counter odd; skip to the next odd value
	// so readers still observe a change.
	odd := v + 1
	if v%2 == 1 {
		odd = v + 2
	}

	atomicStoreUint64(version, odd)
	fn(b.data[offHolder:RecordSize])
	atomicStoreUint64(version, odd+1)

	if err := unix.Msync(b.data, unix.MS_SYNC); err != nil {
		return syncErr(b.f.Name(), fmt.Errorf("msync: %w", err))
	}

	return nil
}

func (b *strictBackend) read(ctx context.Context) ([]byte, error) {
	version := b.data[offVersion : offVersion+versionSize]

	var buf [HolderBufferSize]byte

	for attempt := 0; ; attempt++ {
		if err := readBackoff(ctx, attempt); err != nil {
			return nil, err
		}

		v1 := atomicLoadUint64(version)
		if v1%2 == 1 {
			continue
		}

		copy(buf[:], b.data[offHolder:RecordSize])

		v2 := atomicLoadUint64(version)
		if v1 != v2 {
			continue
		}

		holder := cutHolder(buf[:])
		out := make([]byte, len(holder))
		copy(out, holder)

		return out, nil
	}
}

// version returns the current counter value (diagnostics only).
func (b *strictBackend) version() uint64 {
	return atomicLoadUint64(b.data[offVersion : offVersion+versionSize])
}

const (
	readInitialBackoff = 50 * time.Microsecond
	readMaxBackoff     = 1 * time.Millisecond
)

// readBackoff waits for an exponentially increasing duration based on the
// attempt number (0-indexed). The first attempt is immediate.
func readBackoff(ctx context.Context, attempt int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if attempt == 0 {
		return nil
	}

	backoff := readMaxBackoff
	if attempt < 6 {
		backoff = min(readInitialBackoff<<(attempt-1), readMaxBackoff)
	}

	t := time.NewTimer(backoff)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// atomicLoadUint64 performs an atomic 64-bit load from an 8-byte-aligned
// position in the mapping.
//
// The version counter sits at offset 0 of a page-aligned mapping, so &buf[0]
// is 8-byte aligned. The value uses native byte order, which is little-endian
// on every platform the mapping is used on (amd64, arm64).
func atomicLoadUint64(buf []byte) uint64 {
	_ = buf[7]

	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&buf[0])))
}

// atomicStoreUint64 performs an atomic 64-bit store; see [atomicLoadUint64].
func atomicStoreUint64(buf []byte, val uint64) {
	_ = buf[7]

	atomic.StoreUint64((*uint64)(unsafe.Pointer(&buf[0])), val)
}
