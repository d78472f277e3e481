package lockchan

import "errors"

// Sentinel errors returned by lockchan operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrOpen indicates the lock file could not be opened, stat'ed or mapped.
	ErrOpen = errors.New("lockchan: open failed")

	// ErrSync indicates the lock state could not be persisted.
	//
	// The lock file is left in whatever state the last durable write
	// achieved; there is no rollback.
	ErrSync = errors.New("lockchan: sync failed")

	// ErrLockTimeout indicates [Options.MaxWait] elapsed while the holder
	// still named the awaited path.
	ErrLockTimeout = errors.New("lockchan: lock wait timed out")

	// ErrHolderTooLong indicates a holder path does not fit the strict
	// record's holder buffer (including its terminator).
	ErrHolderTooLong = errors.New("lockchan: holder too long")

	// ErrInvalidInput indicates invalid arguments or options.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("lockchan: invalid input")

	// ErrClosed indicates the [Channel] has already been closed.
	ErrClosed = errors.New("lockchan: closed")
)
