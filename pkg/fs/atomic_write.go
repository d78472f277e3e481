package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be synced after rename.
//
// When returned, the new file is in place but durability is not guaranteed.
var ErrAtomicWriteDirSync = errors.New("dir sync")

// WriteFileAtomic writes data to path atomically and durably.
//
// It writes to a temp file in the same directory, syncs it, renames it over
// path, then syncs the parent directory. Readers that hold the old file open
// keep seeing the old inode until they reopen (see [SameFile]).
//
// If the directory sync step fails, the returned error satisfies
// errors.Is(err, ErrAtomicWriteDirSync).
func WriteFileAtomic(fsys FS, path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return errors.New("path is empty")
	}

	if perm == 0 {
		return errors.New("perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("path is invalid: %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmpFile, tmpPath, err := createAtomicTempFile(fsys, dir, base, perm)
	if err != nil {
		return err
	}

	cleanup := func() error {
		closeErr := tmpFile.Close()
		if closeErr != nil {
			closeErr = fmt.Errorf("close temp file %q: %w", tmpPath, closeErr)
		}

		removeErr := fsys.Remove(tmpPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			removeErr = fmt.Errorf("remove temp file %q: %w", tmpPath, removeErr)
		} else {
			removeErr = nil
		}

		return errors.Join(closeErr, removeErr)
	}

	if err := tmpFile.Chmod(perm); err != nil {
		return errors.Join(fmt.Errorf("chmod temp file %q: %w", tmpPath, err), cleanup())
	}

	if _, err := tmpFile.Write(data); err != nil {
		return errors.Join(fmt.Errorf("write temp file %q: %w", tmpPath, err), cleanup())
	}

	if err := tmpFile.Sync(); err != nil {
		return errors.Join(fmt.Errorf("sync temp file %q: %w", tmpPath, err), cleanup())
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("rename: %w", err), cleanup())
	}

	// The temp path is gone after rename; only the close can fail now.
	_ = cleanup()

	return fsyncDir(fsys, dir)
}

const atomicWriteMaxAttempts = 10000

var atomicWriteCounter atomic.Uint64

func createAtomicTempFile(fsys FS, dir, base string, perm os.FileMode) (File, string, error) {
	for range atomicWriteMaxAttempts {
		seq := atomicWriteCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", base, os.Getpid(), seq))

		file, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func fsyncDir(fsys FS, dirPath string) error {
	dirFd, err := fsys.Open(dirPath)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("open dir %q: %w", dirPath, err))
	}

	syncErr := dirFd.Sync()
	closeErr := dirFd.Close()

	if syncErr != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("%q: %w", dirPath, syncErr), closeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close dir %q: %w", dirPath, closeErr)
	}

	return nil
}
