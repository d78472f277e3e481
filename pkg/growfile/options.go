package growfile

import (
	"context"
	"fmt"

	"github.com/calvinalkan/zcshare/pkg/fs"
	"github.com/calvinalkan/zcshare/pkg/lockchan"
)

// DefaultBlockSize is the growth increment used when [Options.BlockSize] is 0.
const DefaultBlockSize = 2 << 20

// GrowthPolicy selects how a [Writer] extends capacity.
type GrowthPolicy int

const (
	// GrowInPlace extends the file by one block with ftruncate.
	GrowInPlace GrowthPolicy = iota

	// GrowReallocate hands the file to a [Reallocator], which replaces it
	// with a larger copy. For storage that allocates in fixed extents and
	// cannot grow a file in place.
	GrowReallocate
)

// String returns the config spelling of p.
func (p GrowthPolicy) String() string {
	switch p {
	case GrowInPlace:
		return "in-place"
	case GrowReallocate:
		return "reallocate"
	default:
		return fmt.Sprintf("GrowthPolicy(%d)", int(p))
	}
}

// ParseGrowthPolicy parses "in-place" or "reallocate".
func ParseGrowthPolicy(s string) (GrowthPolicy, error) {
	switch s {
	case "in-place":
		return GrowInPlace, nil
	case "reallocate":
		return GrowReallocate, nil
	default:
		return 0, fmt.Errorf("unknown growth policy %q: %w", s, ErrInvalidInput)
	}
}

// Reallocator replaces the file at path with one of at least capacity bytes
// whose leading content is unchanged.
//
// It is a single all-or-nothing step from the writer's point of view. On
// error nothing is assumed about the file.
type Reallocator interface {
	Grow(ctx context.Context, path string, capacity int64) error
}

// Lock is the part of a lock channel a writer needs.
// [*lockchan.Channel] implements it.
type Lock interface {
	Announce(holder string) error
	Clear(holder string) error
}

// Options configures [Attach].
type Options struct {
	// Path is the data file. It must exist. Required.
	Path string

	// Lock is announced around every write. If nil, Attach opens its own
	// channel from LockPath and LockVariant.
	Lock Lock

	// LockPath is the lock file used when Lock is nil. One of Lock or
	// LockPath is required.
	LockPath string

	// LockVariant is the lock file format used when Lock is nil.
	LockVariant lockchan.Variant

	// BlockSize is the growth increment. Default is [DefaultBlockSize].
	BlockSize int64

	// Growth selects the growth policy. Default is [GrowInPlace].
	Growth GrowthPolicy

	// Reallocator performs [GrowReallocate] growth. Required for that
	// policy, ignored otherwise.
	Reallocator Reallocator

	// SyncData fsyncs the data file after every write, before the lock is
	// cleared.
	SyncData bool

	// FS is used to open the data and lock files. Default is [fs.Real].
	FS fs.FS
}

func (o *Options) validate() error {
	if o.Path == "" {
		return fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	if o.Lock == nil && o.LockPath == "" {
		return fmt.Errorf("lock or lock path is required: %w", ErrInvalidInput)
	}

	if o.BlockSize < 0 {
		return fmt.Errorf("block size %d must be >= 0: %w", o.BlockSize, ErrInvalidInput)
	}

	switch o.Growth {
	case GrowInPlace:
	case GrowReallocate:
		if o.Reallocator == nil {
			return fmt.Errorf("reallocate growth needs a reallocator: %w", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown growth policy %d: %w", o.Growth, ErrInvalidInput)
	}

	return nil
}
