package zeroview

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/johncgriffin/overflow"
)

// ReadAt copies len(buf) bytes starting at off into buf.
//
// A request that does not fit inside the mapping transfers nothing and
// returns [ErrOutOfBounds]. An empty buf at an offset in [0, Len] returns
// (0, nil).
func (v *View) ReadAt(ctx context.Context, buf []byte, off int64) (int, error) {
	if err := v.acquire(ctx); err != nil {
		return 0, err
	}
	defer v.mu.Unlock()

	end, ok := overflow.Add64(off, int64(len(buf)))
	if !ok || off < 0 || end > int64(len(v.data)) {
		return 0, fmt.Errorf("%w: read [%d, +%d) (len %d)", ErrOutOfBounds, off, len(buf), len(v.data))
	}

	return copy(buf, v.data[off:end]), nil
}

// ByteAt returns the byte at off without moving the cursor.
func (v *View) ByteAt(ctx context.Context, off int64) (byte, error) {
	if err := v.acquire(ctx); err != nil {
		return 0, err
	}
	defer v.mu.Unlock()

	if off < 0 || off >= int64(len(v.data)) {
		return 0, fmt.Errorf("%w: byte at %d (len %d)", ErrOutOfBounds, off, len(v.data))
	}

	return v.data[off], nil
}

// Int32 returns the little-endian int32 at the cursor.
func (v *View) Int32(ctx context.Context) (int32, error) {
	if err := v.acquire(ctx); err != nil {
		return 0, err
	}
	defer v.mu.Unlock()

	return v.int32Locked(v.cursor, binary.LittleEndian)
}

// Int32At returns the int32 at off in the given byte order without moving
// the cursor.
func (v *View) Int32At(ctx context.Context, off int64, order binary.ByteOrder) (int32, error) {
	if err := v.acquire(ctx); err != nil {
		return 0, err
	}
	defer v.mu.Unlock()

	return v.int32Locked(off, order)
}

func (v *View) int32Locked(off int64, order binary.ByteOrder) (int32, error) {
	end, ok := overflow.Add64(off, 4)
	if !ok || off < 0 || end > int64(len(v.data)) {
		return 0, fmt.Errorf("%w: int32 at %d (len %d)", ErrOutOfBounds, off, len(v.data))
	}

	return int32(order.Uint32(v.data[off:end])), nil
}

// Batch waits on the lock channel once and calls fn with the mapped bytes.
//
// data is read-only and valid only until fn returns; the view is locked for
// the duration, so fn must not call other methods on v. The writer may
// announce again while fn runs: a batch trades the per-read check for speed.
func (v *View) Batch(ctx context.Context, fn func(data []byte) error) error {
	if err := v.acquire(ctx); err != nil {
		return err
	}
	defer v.mu.Unlock()

	return fn(v.data)
}
