// Package realloc provides backends that replace a data file with a larger
// one: the grow-and-migrate step used by storage that cannot extend a file
// in place.
package realloc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/calvinalkan/zcshare/pkg/fs"
)

// ErrShrink indicates the requested capacity is below the file's current size.
var ErrShrink = errors.New("realloc: capacity below current size")

// Copy reallocates by copying the file into a staging file next to it,
// extending the copy to the requested capacity and renaming it over the
// original.
//
// Readers that still map the old file keep seeing it until they notice the
// path now names a new file.
type Copy struct {
	// FS is used to read the original and write the staging file.
	// Default is [fs.Real].
	FS fs.FS
}

// Grow replaces path with a copy of at least capacity bytes.
func (c Copy) Grow(ctx context.Context, path string, capacity int64) error {
	fsys := c.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	src, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("realloc: open %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("realloc: stat %s: %w", path, err)
	}

	if capacity < info.Size() {
		return fmt.Errorf("%w: %s is %d bytes, asked for %d", ErrShrink, path, info.Size(), capacity)
	}

	dir, base := filepath.Split(path)
	staging := filepath.Join(dir, "."+base+".realloc-"+uuid.NewString())

	if err := copyTo(ctx, fsys, src, staging, capacity, info.Mode().Perm()); err != nil {
		_ = fsys.Remove(staging)

		return err
	}

	if err := atomic.ReplaceFile(staging, path); err != nil {
		_ = fsys.Remove(staging)

		return fmt.Errorf("realloc: replace %s: %w", path, err)
	}

	if log.V(1) {
		log.Infof("realloc: %s: copied %d bytes into a %d byte file", path, info.Size(), capacity)
	}

	return nil
}

func copyTo(ctx context.Context, fsys fs.FS, src io.Reader, staging string, capacity int64, perm os.FileMode) error {
	dst, err := fsys.OpenFile(staging, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("realloc: create staging file: %w", err)
	}

	_, err = io.Copy(dst, ctxReader{ctx: ctx, r: src})
	if err == nil {
		err = dst.Truncate(capacity)
	}

	if err == nil {
		err = dst.Sync()
	}

	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("realloc: fill staging file %s: %w", staging, err)
	}

	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	return r.r.Read(p)
}

// Exec reallocates by running an external program.
//
// The program is started directly, never through a shell. The data file path
// and the target capacity in bytes are appended to Argv as two separate
// arguments. Exit status 0 means the file at path now has at least the
// requested capacity and unchanged leading content.
type Exec struct {
	Argv []string

	// Env is appended to the current environment.
	Env []string
}

// Grow runs the program for path and capacity.
func (e Exec) Grow(ctx context.Context, path string, capacity int64) error {
	if len(e.Argv) == 0 || e.Argv[0] == "" {
		return errors.New("realloc: exec: no command configured")
	}

	args := make([]string, 0, len(e.Argv)+1)
	args = append(args, e.Argv[1:]...)
	args = append(args, path, strconv.FormatInt(capacity, 10))

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, e.Argv[0], args...)
	cmd.Stderr = &stderr

	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	if log.V(1) {
		log.Infof("realloc: running %s %s %d", e.Argv[0], path, capacity)
	}

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("realloc: %s: %w", e.Argv[0], err)
		}

		return fmt.Errorf("realloc: %s: %w: %s", e.Argv[0], err, msg)
	}

	return nil
}
