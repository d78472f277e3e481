package zeroview

import (
	"context"
	"fmt"

	"github.com/johncgriffin/overflow"
)

// Offset returns the cursor position.
func (v *View) Offset() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.cursor
}

// Reset moves the cursor back to offset 0.
func (v *View) Reset() {
	v.mu.Lock()
	v.cursor = 0
	v.mu.Unlock()
}

// Advance moves the cursor forward one byte.
func (v *View) Advance(ctx context.Context) error { return v.move(ctx, 1) }

// Retreat moves the cursor back one byte.
func (v *View) Retreat(ctx context.Context) error { return v.move(ctx, -1) }

// AdvanceBy moves the cursor forward n bytes. n must be >= 0.
func (v *View) AdvanceBy(ctx context.Context, n int64) error {
	if n < 0 {
		return fmt.Errorf("advance by %d: %w", n, ErrInvalidInput)
	}

	return v.move(ctx, n)
}

// RetreatBy moves the cursor back n bytes. n must be >= 0.
func (v *View) RetreatBy(ctx context.Context, n int64) error {
	if n < 0 {
		return fmt.Errorf("retreat by %d: %w", n, ErrInvalidInput)
	}

	return v.move(ctx, -n)
}

// move shifts the cursor by delta if the result stays in [0, Len).
func (v *View) move(ctx context.Context, delta int64) error {
	if err := v.acquire(ctx); err != nil {
		return err
	}
	defer v.mu.Unlock()

	next, ok := overflow.Add64(v.cursor, delta)
	if !ok || next < 0 || next >= int64(len(v.data)) {
		return fmt.Errorf("%w: move %+d from %d (len %d)", ErrOutOfBounds, delta, v.cursor, len(v.data))
	}

	v.cursor = next

	return nil
}

// Deref returns the byte at the cursor.
func (v *View) Deref(ctx context.Context) (byte, error) {
	if err := v.acquire(ctx); err != nil {
		return 0, err
	}
	defer v.mu.Unlock()

	if v.cursor >= int64(len(v.data)) {
		return 0, fmt.Errorf("%w: cursor %d (len %d)", ErrOutOfBounds, v.cursor, len(v.data))
	}

	return v.data[v.cursor], nil
}
