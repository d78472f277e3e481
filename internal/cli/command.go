package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one zcshare subcommand. Commands are built per invocation from
// the resolved config, so Exec closures capture it directly.
type Command struct {
	Flags *flag.FlagSet

	// Usage starts with the command name followed by its positional
	// arguments, e.g. "calc <data1> <data2> [flags]".
	Usage string

	Short string
	Long  string // falls back to Short

	// Args is the minimum number of positional arguments. Commands with
	// Args > 0 take data file paths.
	Args int

	Exec func(ctx context.Context, o *IO, args []string) error
}

// helpWidth is the column pflag wraps flag descriptions at.
const helpWidth = 80

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine formats c for the top-level command list with its usage padded
// to width.
func (c *Command) HelpLine(width int) string {
	pad := max(width-len(c.Usage), 0) + 2

	return "  " + c.Usage + strings.Repeat(" ", pad) + c.Short
}

// PrintHelp writes the "zcshare <cmd> --help" text to w.
func (c *Command) PrintHelp(w io.Writer) {
	fprintln(w, "Usage: zcshare", c.Usage)
	fprintln(w)
	fprintln(w, cmp.Or(c.Long, c.Short))

	if c.Flags != nil && c.Flags.HasFlags() {
		fprintln(w)
		fprintln(w, "Flags:")
		_, _ = fmt.Fprint(w, c.Flags.FlagUsagesWrapped(helpWidth))
	}

	if c.Args > 0 {
		fprintln(w)
		fprintln(w, "Relative data paths are resolved against --cwd. Every access waits on\nthe lock file named by --lock (or lock_path in the config).")
	}
}

// Run parses args and calls Exec, returning the exit code. Flag and
// argument count errors go to stderr followed by the command help.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	err := c.parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o.out)

		return 0
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o.errOut)

		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}

func (c *Command) parse(args []string) error {
	c.Flags.SetOutput(io.Discard)

	if err := c.Flags.Parse(args); err != nil {
		return err
	}

	if got := c.Flags.NArg(); got < c.Args {
		return fmt.Errorf("%s: expected %d argument(s), got %d", c.Name(), c.Args, got)
	}

	return nil
}
