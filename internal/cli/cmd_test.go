package cli_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/zcshare/internal/cli"
	"github.com/calvinalkan/zcshare/pkg/lockchan"
)

const sample = "0123456789\nABCDEFGHIJ\n12345\n"

func initLock(t *testing.T, c *cli.CLI) {
	t.Helper()

	require.NoError(t, lockchan.Init(nil, c.LockPath(), lockchan.Strict))
}

func Test_Init_Creates_Block_Sized_Data_And_Strict_Lock(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("--block-size", "64", "init", "data.bin")

	cli.AssertContains(t, stdout, "size=64")
	cli.AssertContains(t, stdout, "variant=strict")

	assert.Equal(t, make([]byte, 64), c.ReadFile("data.bin"))
	assert.Len(t, c.ReadFile("data.lock"), lockchan.RecordSize)

	stderr := c.MustFail("init", "data.bin")
	cli.AssertContains(t, stderr, "already exists")

	c.MustRun("init", "data.bin", "--force", "--size", "8")
	assert.Len(t, c.ReadFile("data.bin"), 8)
}

func Test_Write_Then_Read_Round_Trips_Lines(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("--block-size", "64", "init", "data.bin")

	stdout := c.MustRun("write", "data.bin", "hello", "world")
	cli.AssertContains(t, stdout, "written=12 capacity=64 grows=0")

	got := c.MustRun("read", "data.bin", "--trim-nul")
	assert.Equal(t, "hello\nworld", got)

	got = c.MustRun("read", "data.bin", "--offset", "6", "--length", "5")
	assert.Equal(t, "world", got)
}

func Test_Write_Reads_Lines_From_Stdin_When_No_Lines_Are_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("--block-size", "64", "init", "data.bin")

	stdout, stderr, code := c.RunWithInput("one\ntwo\n", "write", "data.bin")
	require.Equal(t, 0, code, stderr)
	cli.AssertContains(t, stdout, "written=8")

	assert.Equal(t, "one\ntwo\n", string(c.ReadFile("data.bin")[:8]))
}

func Test_Write_Grows_Data_File_When_Lines_Exceed_Block(t *testing.T) {
	t.Parallel()

	for _, growth := range []string{"in-place", "reallocate"} {
		t.Run(growth, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			c.MustRun("--block-size", "16", "init", "data.bin")

			line := strings.Repeat("a", 9)

			stdout := c.MustRun("--block-size", "16", "--growth", growth, "write", "data.bin", line, line, line)
			cli.AssertContains(t, stdout, "written=30 capacity=32 grows=1")

			data := c.ReadFile("data.bin")
			require.Len(t, data, 32)
			assert.Equal(t, strings.Repeat(line+"\n", 3), string(data[:30]))
		})
	}
}

func Test_Read_Fails_When_Range_Is_Out_Of_Bounds(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)
	c.WriteFile("data.bin", []byte(sample))

	stderr := c.MustFail("read", "data.bin", "--offset", "20", "--length", "20")
	cli.AssertContains(t, stderr, "out of bounds")
}

func Test_Read_Prints_Hex_Dump_When_Hex_Flag_Is_Set(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)
	c.WriteFile("data.bin", []byte(sample))

	stdout := c.MustRun("read", "data.bin", "--length", "4", "--hex")
	cli.AssertContains(t, stdout, "30 31 32 33")
}

func Test_Read_Fails_When_Data_File_Is_Empty(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)
	path := c.WriteFile("empty.bin", nil)

	stderr := c.MustFail("read", "empty.bin")
	cli.AssertContains(t, stderr, "open failed")
	cli.AssertContains(t, stderr, path)
}

func Test_Calc_Prints_Results_Of_Ascii_Reinterpretation(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)
	c.WriteFile("a.txt", []byte(sample))
	c.WriteFile("b.txt", []byte(sample))

	x := int32(binary.LittleEndian.Uint32([]byte(sample[6:10])))
	y := int32(binary.LittleEndian.Uint32([]byte(sample[2:6])))

	stdout := c.MustRun("calc", "a.txt", "b.txt", "--at1", "6", "--at2", "2")

	want := fmt.Sprintf("a=%d b=%d\nsum=%d\ndifference=%d\nproduct=%d\nquotient=%d", x, y, x+y, x-y, x*y, x/y)
	assert.Equal(t, want, stdout)
}

func Test_Calc_Fails_After_Printing_Other_Results_When_Divisor_Is_Zero(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)

	a := make([]byte, 4)
	binary.LittleEndian.PutUint32(a, 9)
	c.WriteFile("a.bin", a)
	c.WriteFile("b.bin", make([]byte, 4))

	stdout, stderr, code := c.Run("calc", "a.bin", "b.bin")
	assert.Equal(t, 1, code)
	cli.AssertContains(t, stdout, "sum=9")
	cli.AssertContains(t, stdout, "product=0")
	cli.AssertContains(t, stderr, "divide by zero")
}

func Test_Wait_Returns_Immediately_When_File_Is_Not_Held(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)

	stdout := c.MustRun("wait", "data.bin")
	cli.AssertContains(t, stdout, "waited=")
}

func Test_Wait_Reports_Hold_Duration_When_Another_Process_Holds_The_File(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)

	ch, err := lockchan.Open(lockchan.Options{Path: c.LockPath(), Variant: lockchan.Strict})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	const hold = 150 * time.Millisecond

	done := make(chan int, 1)

	go func() {
		_, _, code := c.Run("hold", "data.bin", "--for", hold.String())
		done <- code
	}()

	dataPath := filepath.Join(c.Dir, "data.bin")

	require.Eventually(t, func() bool {
		holder, err := ch.Holder(context.Background())

		return err == nil && holder == dataPath
	}, 2*time.Second, time.Millisecond)

	stdout := c.MustRun("wait", "data.bin")

	waitedStr, ok := strings.CutPrefix(stdout, "waited=")
	require.True(t, ok, stdout)

	waited, err := time.ParseDuration(waitedStr)
	require.NoError(t, err)
	// The harness polls every 5ms.
	assert.GreaterOrEqual(t, waited, hold/3)
	assert.LessOrEqual(t, waited, hold+3*5*time.Millisecond)

	require.Equal(t, 0, <-done)

	holder, err := ch.Holder(t.Context())
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func Test_Wait_Fails_When_Max_Wait_Elapses(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)

	ch, err := lockchan.Open(lockchan.Options{Path: c.LockPath(), Variant: lockchan.Strict})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	require.NoError(t, ch.Announce(filepath.Join(c.Dir, "data.bin")))

	stderr := c.MustFail("--max-wait", "30ms", "wait", "data.bin")
	cli.AssertContains(t, stderr, "lock wait timed out")
}

func Test_Hold_Clears_Lock_And_Warns_When_Interrupted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockPath := filepath.Join(dir, "data.lock")
	require.NoError(t, lockchan.Init(nil, lockPath, lockchan.Strict))

	sigCh := make(chan os.Signal, 1)

	go func() {
		time.Sleep(30 * time.Millisecond)
		sigCh <- syscall.SIGINT
	}()

	var stdout, stderr bytes.Buffer

	code := cli.Run(nil, &stdout, &stderr,
		[]string{"zcshare", "-C", dir, "--lock", lockPath, "hold", "data.bin", "--for", "1h"},
		map[string]string{}, sigCh)

	assert.Equal(t, 1, code)
	cli.AssertContains(t, stderr.String(), "warning: hold of "+filepath.Join(dir, "data.bin")+" interrupted")

	ch, err := lockchan.Open(lockchan.Options{Path: lockPath, Variant: lockchan.Strict})
	require.NoError(t, err)

	defer ch.Close()

	holder, err := ch.Holder(t.Context())
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func Test_Shell_Runs_Script_From_Stdin(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)
	c.WriteFile("data.bin", []byte(sample))

	script := `# walk to the 6
fwd 6
d
next
pos
back 7
int
read 11 10
len
q
`

	stdout, stderr, code := c.RunWithInput(script, "shell", "data.bin")
	require.Equal(t, 0, code, stderr)

	want := strings.Join([]string{
		`54 0x36 '6'`,
		"7",
		fmt.Sprint(int32(binary.LittleEndian.Uint32([]byte(sample[0:4])))),
		`"ABCDEFGHIJ"`,
		"28",
	}, "\n") + "\n"
	assert.Equal(t, want, stdout)
}

func Test_Shell_Fails_When_Move_Leaves_File(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	initLock(t, c)
	c.WriteFile("data.bin", []byte("ab"))

	_, stderr, code := c.RunWithInput("next\nnext\n", "shell", "data.bin")
	assert.Equal(t, 1, code)
	cli.AssertContains(t, stderr, "next: zeroview: out of bounds")
}

func Test_Bench_Sums_Both_Files_Pairwise(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{"batch", "per-byte"} {
		t.Run(mode, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			initLock(t, c)
			c.WriteFile("a.bin", []byte("abc"))
			c.WriteFile("b.bin", []byte("xyz!"))

			args := []string{"bench", "a.bin", "b.bin"}
			if mode == "per-byte" {
				args = append(args, "--per-byte")
			}

			stdout := c.MustRun(args...)

			sum := 'a' + 'b' + 'c' + 'x' + 'y' + 'z'
			cli.AssertContains(t, stdout, fmt.Sprintf("mode=%s bytes=3 sum=%d", mode, sum))
			cli.AssertContains(t, stdout, "rss_before=")
		})
	}
}
