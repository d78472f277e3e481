package lockchan

import (
	"fmt"

	"github.com/calvinalkan/zcshare/pkg/fs"
)

// Init creates or resets the lock file at path in the unlocked state.
//
// A [Simple] lock file is a single NUL byte, which reads as unlocked. A
// [Strict] lock file is [RecordSize] zero bytes: version 0, empty holder.
//
// The file is replaced atomically. Channels already open on the old file
// notice the replacement on their next operation and reopen.
func Init(fsys fs.FS, path string, v Variant) error {
	if path == "" {
		return fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	if fsys == nil {
		fsys = fs.NewReal()
	}

	var data []byte

	switch v {
	case Simple:
		data = []byte{0}
	case Strict:
		data = make([]byte, RecordSize)
	default:
		return fmt.Errorf("unknown variant %d: %w", v, ErrInvalidInput)
	}

	if err := fs.WriteFileAtomic(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %s: init: %w", ErrSync, path, err)
	}

	return nil
}
