package lockchan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/calvinalkan/zcshare/pkg/fs"
)

// Variant selects the on-disk format of the lock file.
type Variant int

const (
	// Simple stores the holder as a newline-terminated text line.
	Simple Variant = iota

	// Strict stores a version counter plus a fixed-size holder buffer and
	// reads it with a seqlock.
	Strict
)

// String returns the config spelling of v.
func (v Variant) String() string {
	switch v {
	case Simple:
		return "simple"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant parses "simple" or "strict".
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "simple":
		return Simple, nil
	case "strict":
		return Strict, nil
	default:
		return 0, fmt.Errorf("unknown lock variant %q: %w", s, ErrInvalidInput)
	}
}

const (
	// DefaultPollInterval is the delay between polls in [Channel.AwaitRelease].
	DefaultPollInterval = 100 * time.Millisecond

	// HolderBufferSize is the size of the strict record's holder buffer.
	HolderBufferSize = 1024

	// RecordSize is the size of the strict lock record.
	RecordSize = versionSize + HolderBufferSize

	versionSize = 8
)

// Options configures [Open].
type Options struct {
	// Path is the lock file. Required; there is no default.
	Path string

	// Variant selects the lock file format. Default is [Simple].
	Variant Variant

	// PollInterval is the delay between polls while waiting.
	// Default is [DefaultPollInterval].
	PollInterval time.Duration

	// MaxWait bounds [Channel.AwaitRelease]. Zero waits forever.
	MaxWait time.Duration

	// FS is the filesystem used to open the lock file. Default is [fs.Real].
	FS fs.FS
}

// backend is the per-variant encoding of the holder field on an open handle.
type backend interface {
	announce(holder string) error
	clear(padLen int) error
	read(ctx context.Context) ([]byte, error)
	handle() fs.File
	close() error
}

// Channel is an open lock channel.
//
// A Channel is safe for concurrent use by multiple goroutines. Waiting
// ([Channel.AwaitRelease]) does not hold the internal mutex while sleeping.
//
// A Channel must be obtained via [Open]; the zero value is not usable.
type Channel struct {
	_ [0]func() // prevent external construction

	// mu guards b and closed. The backend is swapped when the lock file at
	// Path is replaced (see revalidateLocked).
	mu     sync.Mutex
	b      backend
	closed bool

	path    string
	variant Variant
	poll    time.Duration
	maxWait time.Duration
	fsys    fs.FS
}

// Open opens the lock file described by opts.
//
// The file must exist (see [Init]). A strict lock file shorter than
// [RecordSize] is zero-extended, which encodes version 0 and no holder.
//
// Possible errors: [ErrInvalidInput], [ErrOpen].
func Open(opts Options) (*Channel, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	switch opts.Variant {
	case Simple, Strict:
	default:
		return nil, fmt.Errorf("unknown variant %d: %w", opts.Variant, ErrInvalidInput)
	}

	if opts.PollInterval < 0 || opts.MaxWait < 0 {
		return nil, fmt.Errorf("poll interval and max wait must be >= 0: %w", ErrInvalidInput)
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	c := &Channel{
		path:    opts.Path,
		variant: opts.Variant,
		poll:    opts.PollInterval,
		maxWait: opts.MaxWait,
		fsys:    opts.FS,
	}

	b, err := c.openBackend()
	if err != nil {
		return nil, err
	}

	c.b = b

	return c, nil
}

// Path returns the lock file path.
func (c *Channel) Path() string { return c.path }

// Variant returns the lock file format.
func (c *Channel) Variant() Variant { return c.variant }

// Close releases the lock file handle (and mapping, for [Strict]).
// Close does not clear the holder. Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	err := c.b.close()
	c.b = nil

	return err
}

// Announce replaces the holder with holder and persists the change before
// returning.
//
// Every successful Announce must be paired with exactly one [Channel.Clear],
// including on the caller's failure paths.
//
// Possible errors: [ErrInvalidInput], [ErrHolderTooLong], [ErrSync],
// [ErrOpen], [ErrClosed].
func (c *Channel) Announce(holder string) error {
	if err := validateHolder(holder, c.variant); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.revalidateLocked(); err != nil {
		return err
	}

	return c.b.announce(holder)
}

// Clear resets the holder to unlocked and persists the change.
//
// holder is the value passed to the matching [Channel.Announce]. Clearing a
// channel that names a different holder still clears it (the lock is
// advisory), but is logged as a warning.
//
// Possible errors: [ErrSync], [ErrOpen], [ErrClosed].
func (c *Channel) Clear(holder string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.revalidateLocked(); err != nil {
		return err
	}

	peekCtx, cancel := context.WithTimeout(context.Background(), c.poll)
	defer cancel()

	if cur, err := c.b.read(peekCtx); err == nil && len(cur) > 0 && string(cur) != holder {
		log.Warningf("lockchan: %s: clearing holder %q on behalf of %q", c.path, cur, holder)
	}

	return c.b.clear(len(holder) + 1)
}

// Holder returns the current holder, or "" when unlocked.
//
// For [Strict] the value is read with the seqlock protocol; for [Simple] it
// may be torn by a concurrent writer.
func (c *Channel) Holder(ctx context.Context) (string, error) {
	payload, err := c.readHolder(ctx)
	if err != nil {
		return "", err
	}

	return string(payload), nil
}

// ReadConsistent reads the holder field of a [Strict] channel with the
// double-read-with-version-check pattern: version, payload, version again,
// retrying while the two versions differ or are odd.
//
// The returned payload excludes the terminator. It blocks while a writer is
// mid-update; ctx bounds that wait.
//
// Possible errors: [ErrInvalidInput] (Simple variant), [ErrOpen], [ErrClosed],
// ctx.Err().
func (c *Channel) ReadConsistent(ctx context.Context) ([]byte, error) {
	if c.variant != Strict {
		return nil, fmt.Errorf("read_consistent requires the strict variant: %w", ErrInvalidInput)
	}

	return c.readHolder(ctx)
}

// Version returns the strict record's version counter. An even value means
// no update is in flight.
//
// Possible errors: [ErrInvalidInput] (Simple variant), [ErrOpen], [ErrClosed].
func (c *Channel) Version() (uint64, error) {
	if c.variant != Strict {
		return 0, fmt.Errorf("version requires the strict variant: %w", ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.revalidateLocked(); err != nil {
		return 0, err
	}

	sb, ok := c.b.(*strictBackend)
	if !ok {
		return 0, fmt.Errorf("unexpected backend %T: %w", c.b, ErrInvalidInput)
	}

	return sb.version(), nil
}

// AwaitRelease blocks until the holder no longer equals target and returns
// how long it waited.
//
// Each poll first revalidates the lock file handle, reopening it if the file
// at Path was replaced, then reads the holder. Between polls it sleeps for
// [Options.PollInterval].
//
// Possible errors: [ErrLockTimeout] (only with [Options.MaxWait] > 0),
// ctx.Err() on cancellation, [ErrOpen], [ErrClosed].
func (c *Channel) AwaitRelease(ctx context.Context, target string) (time.Duration, error) {
	start := time.Now()

	waitCtx := ctx

	if c.maxWait > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, c.maxWait)
		defer cancel()
	}

	timer := time.NewTimer(c.poll)
	defer timer.Stop()

	for attempt := 0; ; attempt++ {
		holder, err := c.readHolder(waitCtx)
		if err != nil {
			return time.Since(start), c.waitErr(ctx, err, target)
		}

		if !bytes.Equal(holder, []byte(target)) {
			if attempt > 0 && log.V(2) {
				log.Infof("lockchan: %s: released %q after %s", c.path, target, time.Since(start))
			}

			return time.Since(start), nil
		}

		if attempt == 0 && log.V(2) {
			log.Infof("lockchan: %s: %q is held, waiting", c.path, target)
		}

		if attempt > 0 {
			timer.Reset(c.poll)
		}

		select {
		case <-waitCtx.Done():
			return time.Since(start), c.waitErr(ctx, waitCtx.Err(), target)
		case <-timer.C:
		}
	}
}

// waitErr maps expiry of the MaxWait deadline to [ErrLockTimeout] and passes
// the caller's own cancellation through unchanged.
func (c *Channel) waitErr(parent context.Context, err error, target string) error {
	if c.maxWait > 0 && parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %q still held after %s", ErrLockTimeout, target, c.maxWait)
	}

	return err
}

func (c *Channel) readHolder(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.revalidateLocked(); err != nil {
		return nil, err
	}

	return c.b.read(ctx)
}

// revalidateLocked reopens the lock file if the open handle no longer refers
// to the file at Path (replaced by [Init], unlinked and recreated, ...) or can
// no longer be stat'ed. Must be called with mu held.
func (c *Channel) revalidateLocked() error {
	if c.closed {
		return ErrClosed
	}

	same, err := fs.SameFile(c.fsys, c.path, c.b.handle())
	if err == nil && same {
		return nil
	}

	if err != nil {
		log.Warningf("lockchan: %s: handle is stale (%v), reopening", c.path, err)
	} else {
		log.Warningf("lockchan: %s: file was replaced, reopening", c.path)
	}

	b, openErr := c.openBackend()
	if openErr != nil {
		return openErr
	}

	_ = c.b.close()
	c.b = b

	return nil
}

func (c *Channel) openBackend() (backend, error) {
	f, err := c.fsys.OpenFile(c.path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, c.path, err)
	}

	switch c.variant {
	case Strict:
		b, mapErr := openStrict(f)
		if mapErr != nil {
			_ = f.Close()

			return nil, fmt.Errorf("%w: %s: %w", ErrOpen, c.path, mapErr)
		}

		return b, nil
	default:
		return &simpleBackend{f: f}, nil
	}
}

func validateHolder(holder string, v Variant) error {
	if holder == "" {
		return fmt.Errorf("holder is required: %w", ErrInvalidInput)
	}

	if bytes.IndexAny([]byte(holder), "\n\x00") >= 0 {
		return fmt.Errorf("holder %q contains a terminator byte: %w", holder, ErrInvalidInput)
	}

	if v == Strict && len(holder)+1 > HolderBufferSize {
		return fmt.Errorf("holder length %d exceeds %d: %w", len(holder), HolderBufferSize-1, ErrHolderTooLong)
	}

	return nil
}

// cutHolder returns buf up to the first newline or NUL.
func cutHolder(buf []byte) []byte {
	if i := bytes.IndexAny(buf, "\n\x00"); i >= 0 {
		return buf[:i]
	}

	return buf
}

// syncErr wraps a persistence failure.
func syncErr(path string, err error) error {
	if errors.Is(err, ErrSync) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrSync, path, err)
}
