package lockchan

import (
	"context"
	"fmt"
	"io"

	"github.com/calvinalkan/zcshare/pkg/fs"
)

// simpleBackend stores the holder as "<path>\n". Unlock overwrites the line
// with NUL bytes before truncating, so a racing reader sees padding rather
// than the stale path.
type simpleBackend struct {
	f fs.File
}

func (b *simpleBackend) handle() fs.File { return b.f }

func (b *simpleBackend) close() error { return b.f.Close() }

func (b *simpleBackend) announce(holder string) error {
	if err := b.f.Truncate(0); err != nil {
		return syncErr(b.f.Name(), fmt.Errorf("truncate: %w", err))
	}

	if _, err := b.f.WriteAt([]byte(holder+"\n"), 0); err != nil {
		return syncErr(b.f.Name(), fmt.Errorf("write: %w", err))
	}

	return b.sync()
}

func (b *simpleBackend) clear(padLen int) error {
	if _, err := b.f.WriteAt(make([]byte, padLen), 0); err != nil {
		return syncErr(b.f.Name(), fmt.Errorf("write padding: %w", err))
	}

	if err := b.f.Truncate(0); err != nil {
		return syncErr(b.f.Name(), fmt.Errorf("truncate: %w", err))
	}

	return b.sync()
}

func (b *simpleBackend) sync() error {
	if err := b.f.Sync(); err != nil {
		return syncErr(b.f.Name(), fmt.Errorf("fsync: %w", err))
	}

	return nil
}

// read returns the holder line. It makes no consistency guarantee: a
// concurrent announce can be observed half-written.
func (b *simpleBackend) read(context.Context) ([]byte, error) {
	info, err := b.f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: stat: %w", ErrOpen, b.f.Name(), err)
	}

	size := min(info.Size(), HolderBufferSize)
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)

	n, err := b.f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %s: read: %w", ErrOpen, b.f.Name(), err)
	}

	return cutHolder(buf[:n]), nil
}
