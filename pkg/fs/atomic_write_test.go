package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/zcshare/pkg/fs"
)

func Test_WriteFileAtomic_Replaces_Content_And_Inode_When_File_Exists(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "lock")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	held, err := fsys.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Close() })

	require.NoError(t, fs.WriteFileAtomic(fsys, path, []byte("new"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(got))

	same, err := fs.SameFile(fsys, path, held)
	require.NoError(t, err)
	require.False(t, same, "handle opened before the replace must be detected as stale")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func Test_WriteFileAtomic_Leaves_Target_Untouched_When_Rename_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "lock")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{RenameFailRate: 1})

	err := fs.WriteFileAtomic(chaos, path, []byte("new"), 0o600)
	require.Error(t, err)
	require.True(t, fs.IsChaosErr(err), "err=%v", err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "old", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be cleaned up")
}

func Test_WriteFileAtomic_Returns_Error_When_Path_Is_Empty(t *testing.T) {
	t.Parallel()

	err := fs.WriteFileAtomic(fs.NewReal(), "", []byte("x"), 0o600)
	if err == nil {
		t.Fatal("want error for empty path")
	}

	if errors.Is(err, fs.ErrAtomicWriteDirSync) {
		t.Fatalf("err=%v, must not be a dir sync error", err)
	}
}
