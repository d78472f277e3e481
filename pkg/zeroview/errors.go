package zeroview

import "errors"

// Sentinel errors returned by zeroview operations.
var (
	// ErrOpen indicates the data file could not be opened, or is empty.
	ErrOpen = errors.New("zeroview: open failed")

	// ErrStat indicates the data file's metadata could not be read.
	ErrStat = errors.New("zeroview: stat failed")

	// ErrMap indicates the mapping could not be established.
	ErrMap = errors.New("zeroview: mmap failed")

	// ErrOutOfBounds indicates a cursor move or ranged read would leave the
	// mapped extent. The view is unchanged.
	ErrOutOfBounds = errors.New("zeroview: out of bounds")

	// ErrDivideByZero indicates the right-hand value of [DivideAtCursor] is 0.
	ErrDivideByZero = errors.New("zeroview: divide by zero")

	// ErrInvalidInput indicates invalid options. This is a programming error.
	ErrInvalidInput = errors.New("zeroview: invalid input")

	// ErrClosed indicates the [View] has already been closed.
	ErrClosed = errors.New("zeroview: closed")
)
