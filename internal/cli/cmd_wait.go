package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/zcshare/internal/config"
)

// WaitCmd returns the wait command.
func WaitCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("wait", flag.ContinueOnError),
		Usage: "wait <data>",
		Short: "Block until no writer holds the data file",
		Long: `Poll the lock channel until it no longer names the data file and print how
long that took. Waits forever unless --max-wait is set.`,
		Args: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execWait(ctx, o, cfg, args[0])
		},
	}
}

func execWait(ctx context.Context, o *IO, cfg *config.Config, dataPath string) (err error) {
	ch, err := openChannel(cfg)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, ch.Close()) }()

	waited, err := ch.AwaitRelease(ctx, resolvePath(cfg, dataPath))
	if err != nil {
		return err
	}

	o.Printf("waited=%s\n", waited)

	return nil
}
