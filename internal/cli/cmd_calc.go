package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/zcshare/internal/config"
	"github.com/calvinalkan/zcshare/pkg/zeroview"
)

// CalcCmd returns the calc command.
func CalcCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("calc", flag.ContinueOnError)
	at1 := flags.Int64("at1", 0, "Cursor `offset` in the first file")
	at2 := flags.Int64("at2", 0, "Cursor `offset` in the second file")

	return &Command{
		Flags: flags,
		Usage: "calc <data1> <data2> [flags]",
		Short: "Combine the int32 values at two cursors",
		Long: `Open a view on each file, move the cursors to --at1 and --at2 and print the
sum, difference, product and quotient of the little-endian int32 values
found there. Results wrap on overflow; a zero divisor fails the command
after the other results are printed.`,
		Args: 2,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execCalc(ctx, o, cfg, args[0], args[1], *at1, *at2)
		},
	}
}

func execCalc(ctx context.Context, o *IO, cfg *config.Config, path1, path2 string, at1, at2 int64) (err error) {
	a, err := openView(cfg, path1)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, a.Close()) }()

	b, err := openView(cfg, path2)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, b.Close()) }()

	if err := a.AdvanceBy(ctx, at1); err != nil {
		return err
	}

	if err := b.AdvanceBy(ctx, at2); err != nil {
		return err
	}

	x, err := a.Int32(ctx)
	if err != nil {
		return err
	}

	y, err := b.Int32(ctx)
	if err != nil {
		return err
	}

	o.Printf("a=%d b=%d\n", x, y)

	ops := []struct {
		name string
		fn   func(context.Context, *zeroview.View, *zeroview.View) (int32, error)
	}{
		{"sum", zeroview.AddAtCursor},
		{"difference", zeroview.SubtractAtCursor},
		{"product", zeroview.MultiplyAtCursor},
		{"quotient", zeroview.DivideAtCursor},
	}

	for _, op := range ops {
		r, err := op.fn(ctx, a, b)
		if err != nil {
			return err
		}

		o.Printf("%s=%d\n", op.name, r)
	}

	return nil
}
