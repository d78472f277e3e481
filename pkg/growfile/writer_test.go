package growfile_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/zcshare/pkg/fs"
	"github.com/calvinalkan/zcshare/pkg/growfile"
	"github.com/calvinalkan/zcshare/pkg/lockchan"
	"github.com/calvinalkan/zcshare/pkg/realloc"
	"github.com/calvinalkan/zcshare/pkg/zeroview"
)

// eventLock records Announce and Clear calls in order.
type eventLock struct {
	mu     sync.Mutex
	events []string
	fail   error
}

func (l *eventLock) Announce(holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fail != nil {
		return l.fail
	}

	l.events = append(l.events, "announce "+filepath.Base(holder))

	return nil
}

func (l *eventLock) Clear(holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, "clear "+filepath.Base(holder))

	return nil
}

func (l *eventLock) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.events...)
}

// noopReallocator reports success without touching the file.
type noopReallocator struct{}

func (noopReallocator) Grow(context.Context, string, int64) error { return nil }

type failingReallocator struct{}

func (failingReallocator) Grow(context.Context, string, int64) error {
	return errors.New("extent pool exhausted")
}

func newDataFile(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))

	return path
}

func newLock(t *testing.T, dir string) (string, *lockchan.Channel) {
	t.Helper()

	lockPath := filepath.Join(dir, "data.lock")
	require.NoError(t, lockchan.Init(nil, lockPath, lockchan.Strict))

	ch, err := lockchan.Open(lockchan.Options{Path: lockPath, Variant: lockchan.Strict, PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	return lockPath, ch
}

func attach(t *testing.T, opts growfile.Options) *growfile.Writer {
	t.Helper()

	w, err := growfile.Attach(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	return w
}

func Test_Attach_Rounds_Capacity_Up_To_Block_Size(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		size int
		want int64
	}{
		{size: 0, want: 0},
		{size: 1, want: 64},
		{size: 64, want: 64},
		{size: 65, want: 128},
	} {
		path := newDataFile(t, tc.size)
		w := attach(t, growfile.Options{Path: path, Lock: &eventLock{}, BlockSize: 64})

		assert.Equal(t, growfile.Stats{Capacity: tc.want}, w.Stats(), "size %d", tc.size)
	}
}

func Test_Write_Overwrites_From_Start_When_Attached_To_File_With_Data(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("first-run"), 0o644))

	w := attach(t, growfile.Options{Path: path, Lock: &eventLock{}, BlockSize: 64})

	_, err := w.Write([]byte("NEW"))
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "NEW", string(got[:3]))
	assert.Equal(t, "st-run", string(got[3:9]))
	assert.Equal(t, int64(3), w.Stats().Written)
}

func Test_Attach_Returns_ErrOpen_When_File_Is_Missing(t *testing.T) {
	t.Parallel()

	_, err := growfile.Attach(growfile.Options{Path: filepath.Join(t.TempDir(), "missing.bin"), Lock: &eventLock{}})
	require.ErrorIs(t, err, growfile.ErrOpen)
	assert.Contains(t, err.Error(), "missing.bin")
}

func Test_Attach_Returns_ErrInvalidInput_When_Options_Are_Incomplete(t *testing.T) {
	t.Parallel()

	path := newDataFile(t, 8)

	for name, opts := range map[string]growfile.Options{
		"no path":        {Lock: &eventLock{}},
		"no lock":        {Path: path},
		"no reallocator": {Path: path, Lock: &eventLock{}, Growth: growfile.GrowReallocate},
		"negative block": {Path: path, Lock: &eventLock{}, BlockSize: -1},
	} {
		_, err := growfile.Attach(opts)
		require.ErrorIs(t, err, growfile.ErrInvalidInput, name)
	}
}

func Test_Write_Announces_Before_And_Clears_After_Each_Write(t *testing.T) {
	t.Parallel()

	path := newDataFile(t, 64)
	lock := &eventLock{}
	w := attach(t, growfile.Options{Path: path, Lock: lock, BlockSize: 64})

	_, err := w.Write([]byte("one\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("two\n"))
	require.NoError(t, err)

	want := []string{"announce data.bin", "clear data.bin", "announce data.bin", "clear data.bin"}
	if diff := cmp.Diff(want, lock.Events()); diff != "" {
		t.Fatalf("lock events mismatch (-want +got):\n%s", diff)
	}

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(got[:8]))
	assert.Equal(t, growfile.Stats{Written: 8, Capacity: 64}, w.Stats())
}

func Test_Write_Grows_In_Place_And_Keeps_Earlier_Bytes_When_Block_Overflows(t *testing.T) {
	t.Parallel()

	path := newDataFile(t, 64)
	w := attach(t, growfile.Options{Path: path, Lock: &eventLock{}, BlockSize: 64})

	first := bytes.Repeat([]byte("a"), 40)
	second := bytes.Repeat([]byte("b"), 40)

	_, err := w.Write(first)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Stats().Grows)

	_, err = w.Write(second)
	require.NoError(t, err)
	assert.Equal(t, growfile.Stats{Written: 80, Capacity: 128, Grows: 1}, w.Stats())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 128)
	assert.Equal(t, first, got[:40])
	assert.Equal(t, second, got[40:80])
}

func Test_Write_Grows_Several_Blocks_When_Payload_Spans_Them(t *testing.T) {
	t.Parallel()

	path := newDataFile(t, 0)
	w := attach(t, growfile.Options{Path: path, Lock: &eventLock{}, BlockSize: 16})

	n, err := w.Write(bytes.Repeat([]byte("x"), 100))
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, growfile.Stats{Written: 100, Capacity: 112, Grows: 7}, w.Stats())
}

func Test_Write_Reallocates_And_Keeps_Earlier_Bytes_When_Growth_Is_Reallocate(t *testing.T) {
	t.Parallel()

	path := newDataFile(t, 64)
	w := attach(t, growfile.Options{
		Path:        path,
		Lock:        &eventLock{},
		BlockSize:   64,
		Growth:      growfile.GrowReallocate,
		Reallocator: realloc.Copy{},
	})

	before, err := os.Stat(path)
	require.NoError(t, err)

	_, err = w.Write(bytes.Repeat([]byte("a"), 60))
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("b"), 10))
	require.NoError(t, err)

	assert.Equal(t, growfile.Stats{Written: 70, Capacity: 128, Grows: 1}, w.Stats())

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, os.SameFile(before, after), "reallocation must swap in a new file")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 128)
	assert.Equal(t, bytes.Repeat([]byte("a"), 60), got[:60])
	assert.Equal(t, bytes.Repeat([]byte("b"), 10), got[60:70])
}

func Test_Write_Returns_ErrGrowth_And_Clears_Lock_When_Reallocator_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0o644))

	_, ch := newLock(t, dir)

	w := attach(t, growfile.Options{
		Path:        path,
		Lock:        ch,
		BlockSize:   16,
		Growth:      growfile.GrowReallocate,
		Reallocator: failingReallocator{},
	})

	n, err := w.Write(bytes.Repeat([]byte("x"), 17))
	require.ErrorIs(t, err, growfile.ErrGrowth)
	assert.Contains(t, err.Error(), "extent pool exhausted")
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(0), w.Stats().Written)

	holder, err := ch.Holder(t.Context())
	require.NoError(t, err)
	assert.Empty(t, holder)

	// The writer recovers once growth is not needed.
	_, err = w.Write([]byte("ok"))
	require.NoError(t, err)
}

func Test_Write_Returns_ErrGrowth_When_Reallocator_Does_Not_Grow(t *testing.T) {
	t.Parallel()

	path := newDataFile(t, 16)
	lock := &eventLock{}
	w := attach(t, growfile.Options{
		Path:        path,
		Lock:        lock,
		BlockSize:   16,
		Growth:      growfile.GrowReallocate,
		Reallocator: noopReallocator{},
	})

	_, err := w.Write(bytes.Repeat([]byte("x"), 32))
	require.ErrorIs(t, err, growfile.ErrGrowth)
	assert.Equal(t, []string{"announce data.bin", "clear data.bin"}, lock.Events())
}

func Test_Write_Returns_ErrGrowth_And_Clears_Lock_When_Truncate_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0o644))

	_, ch := newLock(t, dir)
	chaos := fs.NewChaos(fs.NewReal(), 5, &fs.ChaosConfig{TruncateFailRate: 1})

	w := attach(t, growfile.Options{Path: path, Lock: ch, BlockSize: 16, FS: chaos})

	_, err := w.Write(bytes.Repeat([]byte("x"), 20))
	require.ErrorIs(t, err, growfile.ErrGrowth)
	assert.True(t, fs.IsChaosErr(err))

	holder, err := ch.Holder(t.Context())
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func Test_Write_Counts_Partial_Bytes_And_Clears_Lock_When_Write_Fails_Midway(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	_, ch := newLock(t, dir)
	chaos := fs.NewChaos(fs.NewReal(), 9, &fs.ChaosConfig{PartialWriteRate: 1})

	w := attach(t, growfile.Options{Path: path, Lock: ch, BlockSize: 64, FS: chaos})

	n, err := w.Write([]byte("0123456789"))
	require.ErrorIs(t, err, growfile.ErrWrite)
	require.Positive(t, n)
	require.Less(t, n, 10)
	assert.Equal(t, int64(n), w.Stats().Written)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789"[:n], string(got[:n]))

	holder, err := ch.Holder(t.Context())
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func Test_Write_Returns_ErrWrite_When_Data_Sync_Fails(t *testing.T) {
	t.Parallel()

	path := newDataFile(t, 64)
	chaos := fs.NewChaos(fs.NewReal(), 2, &fs.ChaosConfig{SyncFailRate: 1})
	lock := &eventLock{}

	w := attach(t, growfile.Options{Path: path, Lock: lock, BlockSize: 64, SyncData: true, FS: chaos})

	n, err := w.Write([]byte("abc"))
	require.ErrorIs(t, err, growfile.ErrWrite)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"announce data.bin", "clear data.bin"}, lock.Events())
}

func Test_Write_Returns_Announce_Error_Without_Writing_When_Lock_Fails(t *testing.T) {
	t.Parallel()

	path := newDataFile(t, 64)
	lock := &eventLock{fail: lockchan.ErrSync}
	w := attach(t, growfile.Options{Path: path, Lock: lock, BlockSize: 64})

	_, err := w.Write([]byte("abc"))
	require.ErrorIs(t, err, lockchan.ErrSync)
	assert.Empty(t, lock.Events())
	assert.Equal(t, int64(0), w.Stats().Written)
}

func Test_Writer_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 8), 0o644))

	lockPath, _ := newLock(t, dir)

	w, err := growfile.Attach(growfile.Options{Path: path, LockPath: lockPath, LockVariant: lockchan.Strict})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	require.ErrorIs(t, err, growfile.ErrClosed)
	require.ErrorIs(t, w.Sync(), growfile.ErrClosed)
}

// holdingLock keeps the announcement up for hold before returning, like a
// slow writer.
type holdingLock struct {
	*lockchan.Channel
	hold time.Duration
}

func (l holdingLock) Announce(holder string) error {
	if err := l.Channel.Announce(holder); err != nil {
		return err
	}

	time.Sleep(l.hold)

	return nil
}

func Test_Reader_Waits_For_Writer_And_Sees_Its_Bytes_When_Write_Is_In_Flight(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	lockPath, writerCh := newLock(t, dir)

	const hold = 100 * time.Millisecond

	w := attach(t, growfile.Options{Path: path, Lock: holdingLock{Channel: writerCh, hold: hold}, BlockSize: 64})

	v, err := zeroview.Open(zeroview.Options{
		Path:         path,
		LockPath:     lockPath,
		LockVariant:  lockchan.Strict,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	done := make(chan error, 1)

	go func() {
		_, err := w.Write([]byte("Z"))
		done <- err
	}()

	// Start reading only once the writer's announcement is visible.
	require.Eventually(t, func() bool {
		holder, err := writerCh.Holder(context.Background())

		return err == nil && holder == w.Path()
	}, time.Second, time.Millisecond)

	b, err := v.Deref(t.Context())
	require.NoError(t, err)
	assert.Equal(t, byte('Z'), b)
	assert.GreaterOrEqual(t, v.LockWait(), hold/4)

	require.NoError(t, <-done)
}
