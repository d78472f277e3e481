package zeroview

import (
	"context"
	"fmt"
)

// AddAtCursor returns the sum of the int32 values at a's and b's cursors.
// Overflow wraps.
func AddAtCursor(ctx context.Context, a, b *View) (int32, error) {
	x, y, err := operands(ctx, a, b)
	if err != nil {
		return 0, err
	}

	return x + y, nil
}

// SubtractAtCursor returns a's value minus b's value. Overflow wraps.
func SubtractAtCursor(ctx context.Context, a, b *View) (int32, error) {
	x, y, err := operands(ctx, a, b)
	if err != nil {
		return 0, err
	}

	return x - y, nil
}

// MultiplyAtCursor returns the product of the two values. Overflow wraps.
func MultiplyAtCursor(ctx context.Context, a, b *View) (int32, error) {
	x, y, err := operands(ctx, a, b)
	if err != nil {
		return 0, err
	}

	return x * y, nil
}

// DivideAtCursor returns a's value divided by b's value, truncated toward
// zero. It fails with [ErrDivideByZero] when b's value is 0.
// math.MinInt32 / -1 wraps to math.MinInt32.
func DivideAtCursor(ctx context.Context, a, b *View) (int32, error) {
	x, y, err := operands(ctx, a, b)
	if err != nil {
		return 0, err
	}

	if y == 0 {
		return 0, fmt.Errorf("%w: %s at %d", ErrDivideByZero, b.Path(), b.Offset())
	}

	return x / y, nil
}

// operands reads a's value, then b's. Each read runs its own lock check.
func operands(ctx context.Context, a, b *View) (int32, int32, error) {
	x, err := a.Int32(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("left operand: %w", err)
	}

	y, err := b.Int32(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("right operand: %w", err)
	}

	return x, y, nil
}
