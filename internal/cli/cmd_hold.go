package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/zcshare/internal/config"
)

// HoldCmd returns the hold command.
func HoldCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("hold", flag.ContinueOnError)
	holdFor := flags.Duration("for", time.Second, "How long to hold the announcement")

	return &Command{
		Flags: flags,
		Usage: "hold <data> [flags]",
		Short: "Announce the data file, sleep, then clear",
		Long: `Announce the data file on the lock channel, keep it announced for --for (or
until interrupted) and clear it. Readers of the file block meanwhile.`,
		Args: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execHold(ctx, o, cfg, args[0], *holdFor)
		},
	}
}

func execHold(ctx context.Context, o *IO, cfg *config.Config, dataPath string, holdFor time.Duration) (err error) {
	ch, err := openChannel(cfg)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, ch.Close()) }()

	path := resolvePath(cfg, dataPath)

	if err := ch.Announce(path); err != nil {
		return err
	}

	defer func() {
		if clearErr := ch.Clear(path); clearErr != nil {
			err = errors.Join(err, fmt.Errorf("clear: %w", clearErr))
		}
	}()

	start := time.Now()
	t := time.NewTimer(holdFor)

	defer t.Stop()

	select {
	case <-ctx.Done():
		o.Warn("hold of %s interrupted after %s", path, time.Since(start).Round(time.Millisecond))
	case <-t.C:
		o.Printf("held=%s duration=%s\n", path, holdFor)
	}

	return nil
}
