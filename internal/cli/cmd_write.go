package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/zcshare/internal/config"
)

// WriteCmd returns the write command.
func WriteCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("write", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "write <data> [line...]",
		Short: "Write lines to the data file from the start",
		Long: `Attach a writer to the data file and write each line argument, or each
line of stdin when none are given, newline-terminated. Every line is one
announced write; the file grows by whole blocks as needed.`,
		Args: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execWrite(ctx, o, cfg, args[0], args[1:])
		},
	}
}

func execWrite(ctx context.Context, o *IO, cfg *config.Config, dataPath string, lines []string) (err error) {
	w, err := attachWriter(cfg, dataPath)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, w.Close()) }()

	writeLine := func(line string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := w.WriteContext(ctx, []byte(line+"\n"))

		return err
	}

	if len(lines) > 0 {
		for _, line := range lines {
			if err := writeLine(line); err != nil {
				return err
			}
		}
	} else {
		if o.In() == nil {
			return errors.New("no lines given and no stdin")
		}

		scanner := bufio.NewScanner(o.In())
		for scanner.Scan() {
			if err := writeLine(scanner.Text()); err != nil {
				return err
			}
		}

		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	st := w.Stats()
	o.Printf("written=%d capacity=%d grows=%d\n", st.Written, st.Capacity, st.Grows)

	return nil
}
