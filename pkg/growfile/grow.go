package growfile

import (
	"context"
	"fmt"

	log "github.com/golang/glog"
	"github.com/johncgriffin/overflow"
)

// growLocked performs one growth step.
func (w *Writer) growLocked(ctx context.Context) error {
	target, ok := overflow.Add64(w.capacity, w.blockSize)
	if !ok {
		return fmt.Errorf("%w: %s: capacity overflows int64", ErrGrowth, w.path)
	}

	var err error

	switch w.growth {
	case GrowReallocate:
		err = w.reallocateLocked(ctx, target)
	default:
		err = w.extendLocked(target)
	}

	if err != nil {
		return err
	}

	w.grows++

	if log.V(1) {
		log.Infof("growfile: %s: grew to %d (%s)", w.path, w.capacity, w.growth)
	}

	return nil
}

func (w *Writer) extendLocked(target int64) error {
	if w.f == nil {
		if err := w.openLocked(); err != nil {
			return fmt.Errorf("%w: %w", ErrGrowth, err)
		}
	}

	if err := w.f.Truncate(target); err != nil {
		return fmt.Errorf("%w: %s: truncate to %d: %w", ErrGrowth, w.path, target, err)
	}

	w.capacity = target

	return nil
}

// reallocateLocked closes the handle, lets the reallocator replace the file
// and reopens whatever is at the path afterwards.
//
// If the reopen fails the writer is left without a handle; the next write
// tries to open again.
func (w *Writer) reallocateLocked(ctx context.Context, target int64) error {
	if w.f != nil {
		if err := w.f.Close(); err != nil {
			log.Warningf("growfile: %s: close before reallocation: %v", w.path, err)
		}

		w.f = nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrGrowth, w.path, err)
	}

	if log.V(1) {
		log.Infof("growfile: %s: reallocating %d -> %d", w.path, w.capacity, target)
	}

	if err := w.realloc.Grow(ctx, w.path, target); err != nil {
		return fmt.Errorf("%w: %s: reallocate to %d: %w", ErrGrowth, w.path, target, err)
	}

	prev := w.capacity

	if err := w.openLocked(); err != nil {
		return fmt.Errorf("%w: reopen after reallocation: %w", ErrGrowth, err)
	}

	if w.capacity <= prev {
		return fmt.Errorf("%w: %s: reallocator left capacity at %d, want >= %d", ErrGrowth, w.path, w.capacity, target)
	}

	if w.capacity < w.written {
		return fmt.Errorf("%w: %s: reallocated file holds %d bytes, %d were written", ErrGrowth, w.path, w.capacity, w.written)
	}

	return nil
}
