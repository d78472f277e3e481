package growfile

import "errors"

// Sentinel errors returned by growfile operations.
var (
	// ErrOpen indicates the data file could not be opened.
	ErrOpen = errors.New("growfile: open failed")

	// ErrStat indicates the data file's size could not be read.
	ErrStat = errors.New("growfile: stat failed")

	// ErrWrite indicates the underlying write (or its fsync) failed.
	// [Stats.Written] still counts the bytes that were transferred.
	ErrWrite = errors.New("growfile: write failed")

	// ErrGrowth indicates capacity could not be extended. The in-flight
	// write transferred nothing.
	ErrGrowth = errors.New("growfile: growth failed")

	// ErrInvalidInput indicates invalid options. This is a programming error.
	ErrInvalidInput = errors.New("growfile: invalid input")

	// ErrClosed indicates the [Writer] has already been closed.
	ErrClosed = errors.New("growfile: closed")
)
