package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/zcshare/internal/config"
	"github.com/calvinalkan/zcshare/pkg/fs"
	"github.com/calvinalkan/zcshare/pkg/lockchan"
)

// InitCmd returns the init command.
func InitCmd(cfg *config.Config) *Command {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	size := flags.Int64("size", 0, "Pre-size the data file to `bytes` (default: one block)")
	force := flags.Bool("force", false, "Truncate an existing data file")

	return &Command{
		Flags: flags,
		Usage: "init <data> [flags]",
		Short: "Create a zeroed data file and reset the lock file",
		Long: `Create the data file pre-sized to one block of zero bytes and write an
unlocked lock file in the configured variant. Fails if the data file exists
unless --force is given.`,
		Args: 1,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execInit(o, cfg, args[0], *size, *force)
		},
	}
}

func execInit(o *IO, cfg *config.Config, dataPath string, size int64, force bool) error {
	if cfg.LockPathAbs == "" {
		return errNoLockPath
	}

	if size == 0 {
		size = cfg.BlockSize
	}

	if size < 0 {
		return fmt.Errorf("--size %d must be > 0", size)
	}

	path := resolvePath(cfg, dataPath)

	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}

	f, err := fs.NewReal().OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("data file already exists: %s (use --force to reset it)", path)
		}

		return fmt.Errorf("create data file: %w", err)
	}

	err = f.Truncate(size)
	if err == nil {
		err = f.Sync()
	}

	err = errors.Join(err, f.Close())
	if err != nil {
		return fmt.Errorf("size data file %s: %w", path, err)
	}

	if err := lockchan.Init(nil, cfg.LockPathAbs, cfg.Variant); err != nil {
		return err
	}

	o.Printf("data=%s size=%d\n", path, size)
	o.Printf("lock=%s variant=%s\n", cfg.LockPathAbs, cfg.Variant)

	return nil
}
