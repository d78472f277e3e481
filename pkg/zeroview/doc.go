// Package zeroview provides a read-only, memory-mapped view of a data file
// with a byte cursor and checked integer accessors.
//
// Reads are served straight from a shared read-only mapping; nothing is
// copied except into buffers the caller supplies. Before every read-path
// operation the view
//
//  1. checks that its descriptor still refers to the file at its path,
//     reopening and remapping when the file was replaced, and
//  2. waits on the lock channel until no writer announces its path.
//
// That makes single-byte cursor steps comparatively expensive: each one costs
// two stat calls and a lock poll. [View.Batch] performs the check once and
// hands the caller the whole mapped span for a run of reads.
//
// The mapped length is taken when the view is opened and never changes.
// Bytes appended afterwards are visible only to a view opened later.
//
// # Cursor
//
// The cursor is an offset in [0, Len). Moves that would leave that range fail
// with [ErrOutOfBounds] and leave the cursor where it was.
//
// # Integers
//
// [View.Int32] reinterprets the 4 bytes at the cursor as a little-endian
// signed integer. No alignment or record-type check is made. The cross-view
// functions ([AddAtCursor], [SubtractAtCursor], [MultiplyAtCursor],
// [DivideAtCursor]) combine the values at two views' cursors with
// two's-complement wrap-around.
package zeroview
