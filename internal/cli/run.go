package cli

import (
	"context"
	goflag "flag"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/zcshare/internal/config"
)

type globalOpts struct {
	workDir    string
	configPath string
	overrides  config.Overrides
	help       bool
}

// Run is the main entry point. Returns exit code.
//
// A value on sigCh cancels the running command's context, which aborts lock
// waits and holds. sigCh may be nil.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	var opts globalOpts

	globals := newGlobalFlags(&opts)

	if len(args) > 0 {
		args = args[1:]
	}

	if err := globals.Parse(args); err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals, nil)

		return 1
	}

	rest := globals.Args()

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: opts.workDir,
		ConfigPath:      opts.configPath,
		Overrides:       opts.overrides,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	commands := allCommands(&cfg)

	if opts.help || len(rest) == 0 {
		printUsage(out, globals, commands)

		return 0
	}

	var cmd *Command

	for _, c := range commands {
		if c.Name() == rest[0] {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error: unknown command:", rest[0])
		fprintln(errOut)
		printUsage(errOut, globals, commands)

		return 1
	}

	o := NewIO(in, out, errOut)

	if code := cmd.Run(ctx, o, rest[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

func newGlobalFlags(opts *globalOpts) *flag.FlagSet {
	fs := flag.NewFlagSet("zcshare", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&opts.workDir, "cwd", "C", "", "Run as if started in `dir`")
	fs.StringVarP(&opts.configPath, "config", "c", "", "Use the specified config `file`")
	fs.StringVar(&opts.overrides.LockPath, "lock", "", "Lock channel `file`")
	fs.StringVar(&opts.overrides.LockVariant, "lock-variant", "", "Lock file format: simple or strict")
	fs.StringVar(&opts.overrides.PollInterval, "poll-interval", "", "Delay between lock polls (Go `duration`)")
	fs.StringVar(&opts.overrides.MaxWait, "max-wait", "", "Give up waiting on the lock after `duration` (0 waits forever)")
	fs.Int64Var(&opts.overrides.BlockSize, "block-size", 0, "Growth increment in `bytes`")
	fs.StringVar(&opts.overrides.Growth, "growth", "", "Growth policy: in-place or reallocate")
	fs.BoolVarP(&opts.help, "help", "h", false, "Show help")

	// glog's flags (-v, --logtostderr, ...) are accepted but not listed.
	fs.AddGoFlagSet(goflag.CommandLine)
	goflag.CommandLine.VisitAll(func(f *goflag.Flag) {
		_ = fs.MarkHidden(f.Name)
	})

	return fs
}

func allCommands(cfg *config.Config) []*Command {
	return []*Command{
		InitCmd(cfg),
		WriteCmd(cfg),
		ReadCmd(cfg),
		CalcCmd(cfg),
		HoldCmd(cfg),
		WaitCmd(cfg),
		ShellCmd(cfg),
		BenchCmd(cfg),
		PrintConfigCmd(cfg),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, `zcshare - zero-copy shared file storage with an advisory lock channel

Usage: zcshare [global flags] <command> [args]`)

	if len(commands) > 0 {
		fprintln(w)
		fprintln(w, "Commands:")

		width := 0
		for _, c := range commands {
			width = max(width, len(c.Usage))
		}

		for _, c := range commands {
			fprintln(w, c.HelpLine(width))
		}
	}

	fprintln(w)
	fprintln(w, "Global flags:")
	_, _ = fmt.Fprint(w, globals.FlagUsages())
	fprintln(w)
	fprintln(w, "Logging flags (-v, --logtostderr, --log_dir, ...) are passed to glog.")
}
