package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/zcshare/pkg/fs"
)

func Test_Chaos_WriteAt_Fails_Without_Writing_When_WriteFailRate_Is_One(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 8), 0o600))

	chaos := fs.NewChaos(fs.NewReal(), 7, &fs.ChaosConfig{WriteFailRate: 1})

	f, err := chaos.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	n, err := f.WriteAt([]byte("abcd"), 0)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, fs.IsChaosErr(err))
	assert.Equal(t, int64(1), chaos.Stats().WriteFails)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), got)
}

func Test_Chaos_WriteAt_Writes_Prefix_When_PartialWriteRate_Is_One(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 8), 0o600))

	chaos := fs.NewChaos(fs.NewReal(), 7, &fs.ChaosConfig{PartialWriteRate: 1})

	f, err := chaos.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	n, err := f.WriteAt([]byte("abcdefgh"), 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, syscall.EIO), "err=%v", err)
	require.Greater(t, n, 0)
	require.Less(t, n, 8)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh"[:n], string(got[:n]))
}

func Test_Chaos_Passes_Through_When_Mode_Is_NoOp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	chaos := fs.NewChaos(fs.NewReal(), 7, &fs.ChaosConfig{
		OpenFailRate:     1,
		SyncFailRate:     1,
		TruncateFailRate: 1,
	})
	chaos.SetMode(fs.ChaosModeNoOp)

	f, err := chaos.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	require.NoError(t, f.Truncate(4096))
	require.NoError(t, f.Sync())
	assert.Equal(t, fs.ChaosStats{}, chaos.Stats())
}

func Test_Chaos_OpenFile_Returns_PathError_When_OpenFailRate_Is_One(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 7, &fs.ChaosConfig{OpenFailRate: 1})

	_, err := chaos.Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	var pathErr *os.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.False(t, os.IsNotExist(err), "chaos must never inject ENOENT")
}
