package cli

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/zcshare/internal/config"
)

// ReadCmd returns the read command.
func ReadCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("read", flag.ContinueOnError)
	offset := flags.Int64("offset", 0, "Start at `byte` offset")
	length := flags.Int64("length", -1, "Read `n` bytes (default: to the end)")
	asHex := flags.Bool("hex", false, "Print a hex dump")
	trim := flags.Bool("trim-nul", false, "Drop trailing NUL bytes (unwritten capacity)")

	return &Command{
		Flags: flags,
		Usage: "read <data> [flags]",
		Short: "Print a byte range of the data file",
		Long: `Map the data file read-only, wait until no writer holds it and print the
requested range. A range outside the file fails.`,
		Args: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execRead(ctx, o, cfg, args[0], *offset, *length, *asHex, *trim)
		},
	}
}

func execRead(ctx context.Context, o *IO, cfg *config.Config, dataPath string, offset, length int64, asHex, trim bool) (err error) {
	v, err := openView(cfg, dataPath)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, v.Close()) }()

	if length < 0 {
		length = v.Len() - offset
	}

	if length < 0 {
		return fmt.Errorf("--offset %d is past the end (%d bytes)", offset, v.Len())
	}

	buf := make([]byte, length)

	if _, err := v.ReadAt(ctx, buf, offset); err != nil {
		return err
	}

	if trim {
		buf = bytes.TrimRight(buf, "\x00")
	}

	if asHex {
		o.Printf("%s", hex.Dump(buf))

		return nil
	}

	_, err = o.Out().Write(buf)

	return err
}
