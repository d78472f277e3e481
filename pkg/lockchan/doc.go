// Package lockchan implements an advisory lock channel: a small shared file
// that tells cooperating processes which data file is currently being
// mutated.
//
// It replaces OS file locks for storage back-ends that do not support them
// (shared-memory filesystems, CXL-attached storage, files shared across
// containers). Nothing forces a participant to honor the channel; it is a
// cooperative signal.
//
// # Variants
//
// [Simple] stores the holder as a text line: empty means unlocked, otherwise
// the path of the locked file followed by a newline. A reader may observe a
// partially written line.
//
// [Strict] stores a fixed [RecordSize] record: an 8-byte little-endian version
// counter followed by a [HolderBufferSize] buffer holding the path, newline or
// NUL terminated. Writers bump the counter to odd before touching the buffer
// and back to even afterwards; readers retry until they see the same even
// value before and after copying the buffer (seqlock).
//
// # Basic Usage
//
//	ch, err := lockchan.Open(lockchan.Options{
//	    Path:    "/mnt/cxl/data.lock",
//	    Variant: lockchan.Strict,
//	})
//	if err != nil {
//	    return err
//	}
//	defer ch.Close()
//
//	// writer
//	ch.Announce("/mnt/cxl/data.bin")
//	// ... mutate data.bin ...
//	ch.Clear("/mnt/cxl/data.bin")
//
//	// reader
//	waited, err := ch.AwaitRelease(ctx, "/mnt/cxl/data.bin")
//
// # Waiting
//
// [Channel.AwaitRelease] polls at [Options.PollInterval]. With the default
// [Options.MaxWait] of zero it never gives up: a writer that dies while
// holding the channel blocks every waiting reader until the context is
// canceled. Set MaxWait to turn that into [ErrLockTimeout].
package lockchan
