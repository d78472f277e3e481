package cli

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/zcshare/internal/config"
	"github.com/calvinalkan/zcshare/pkg/zeroview"
)

const shellHelp = `Commands:
  n, next              Advance the cursor one byte
  p, prev              Move the cursor back one byte
  fwd <n>              Advance the cursor n bytes
  back <n>             Move the cursor back n bytes
  d, deref             Print the byte at the cursor
  int                  Print the little-endian int32 at the cursor
  int-be               Print the big-endian int32 at the cursor
  read <off> <len>     Print a byte range
  pos                  Print the cursor offset
  len                  Print the mapped length
  reset                Move the cursor to offset 0
  waited               Print the total time spent waiting on the lock
  help                 Show this help
  exit / quit / q      Exit`

var shellCommands = []string{
	"next", "prev", "fwd", "back", "deref", "int", "int-be", "read",
	"pos", "len", "reset", "waited", "help", "exit", "quit",
}

// ShellCmd returns the shell command.
func ShellCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell <data>",
		Short: "Interactive cursor over a data file",
		Long: `Open a view on the data file and move its cursor interactively. Every step
waits on the lock channel like any other read. Type 'help' at the prompt.`,
		Args: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execShell(ctx, o, cfg, args[0])
		},
	}
}

func execShell(ctx context.Context, o *IO, cfg *config.Config, dataPath string) (err error) {
	v, err := openView(cfg, dataPath)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, v.Close()) }()

	sh := &shell{v: v, o: o}

	if f, ok := o.In().(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		return sh.runTerminal(ctx)
	}

	if o.In() == nil {
		return nil
	}

	return sh.runScript(ctx, o.In())
}

type shell struct {
	v *zeroview.View
	o *IO
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".zcshare_history")
}

func (s *shell) runTerminal(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(prefix)) {
				out = append(out, c)
			}
		}

		return out
	})

	hist := historyFile()
	if f, err := os.Open(hist); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	defer func() {
		if hist == "" {
			return
		}

		if f, err := os.Create(hist); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	s.o.Printf("zcshare shell on %s (%d bytes). Type 'help' for commands.\n", s.v.Path(), s.v.Len())

	for {
		input, err := line.Prompt("zcshare> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		quit, err := s.exec(ctx, input)
		if err != nil {
			s.o.Println("error:", err)
		}

		if quit {
			return nil
		}
	}
}

// runScript reads commands from r without a prompt. The first failing
// command ends the session with its error.
func (s *shell) runScript(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") {
			continue
		}

		quit, err := s.exec(ctx, input)
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}

		if quit {
			return nil
		}
	}

	return scanner.Err()
}

// exec runs one shell command.
func (s *shell) exec(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true, nil
	case "help", "?":
		s.o.Println(shellHelp)
	case "n", "next":
		return false, s.v.Advance(ctx)
	case "p", "prev":
		return false, s.v.Retreat(ctx)
	case "fwd", "back":
		n, err := intArg(args, 0)
		if err != nil {
			return false, err
		}

		if cmd == "fwd" {
			return false, s.v.AdvanceBy(ctx, n)
		}

		return false, s.v.RetreatBy(ctx, n)
	case "d", "deref":
		b, err := s.v.Deref(ctx)
		if err != nil {
			return false, err
		}

		s.o.Printf("%d 0x%02x %q\n", b, b, rune(b))
	case "int":
		n, err := s.v.Int32(ctx)
		if err != nil {
			return false, err
		}

		s.o.Println(n)
	case "int-be":
		n, err := s.v.Int32At(ctx, s.v.Offset(), binary.BigEndian)
		if err != nil {
			return false, err
		}

		s.o.Println(n)
	case "read":
		off, err := intArg(args, 0)
		if err != nil {
			return false, err
		}

		length, err := intArg(args, 1)
		if err != nil {
			return false, err
		}

		buf := make([]byte, length)
		if _, err := s.v.ReadAt(ctx, buf, off); err != nil {
			return false, err
		}

		s.o.Printf("%q\n", buf)
	case "pos":
		s.o.Println(s.v.Offset())
	case "len":
		s.o.Println(s.v.Len())
	case "reset":
		s.v.Reset()
	case "waited":
		s.o.Println(s.v.LockWait())
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", cmd)
	}

	return false, nil
}

func intArg(args []string, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}

	n, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", args[i])
	}

	return n, nil
}
