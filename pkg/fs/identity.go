package fs

import (
	"fmt"
	"os"
	"syscall"
)

// Identity uniquely identifies a file by device and inode.
type Identity struct {
	Dev uint64
	Ino uint64
}

// IdentityOf extracts the device and inode from info.
//
// info.Sys() must be a *syscall.Stat_t, which holds for every [os.FileInfo]
// produced by the os package on Unix.
func IdentityOf(info os.FileInfo) (Identity, error) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return Identity{}, fmt.Errorf("stat Sys=%T, want *syscall.Stat_t", info.Sys())
	}

	return Identity{Dev: uint64(st.Dev), Ino: st.Ino}, nil
}

// SameFile reports whether f (an open handle) still refers to the file
// currently at path.
//
// Handles are per inode, not per pathname. When a path is replaced (rename,
// delete+recreate, a reallocation that swaps in a bigger file) a handle opened
// before the swap keeps pointing at the old inode. Callers use SameFile to
// detect that and reopen.
//
// Returns (false, nil) if path no longer exists.
func SameFile(fsys FS, path string, f File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	openID, err := IdentityOf(openInfo)
	if err != nil {
		return false, err
	}

	pathInfo, err := fsys.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	pathID, err := IdentityOf(pathInfo)
	if err != nil {
		return false, err
	}

	return openID == pathID, nil
}
