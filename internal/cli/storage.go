package cli

import (
	"errors"
	"path/filepath"

	"github.com/calvinalkan/zcshare/internal/config"
	"github.com/calvinalkan/zcshare/pkg/growfile"
	"github.com/calvinalkan/zcshare/pkg/lockchan"
	"github.com/calvinalkan/zcshare/pkg/realloc"
	"github.com/calvinalkan/zcshare/pkg/zeroview"
)

var errNoLockPath = errors.New("lock path is required (--lock or lock_path in config)")

// resolvePath makes p absolute relative to the effective working directory.
func resolvePath(cfg *config.Config, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(cfg.EffectiveCwd, p)
}

func openChannel(cfg *config.Config) (*lockchan.Channel, error) {
	if cfg.LockPathAbs == "" {
		return nil, errNoLockPath
	}

	return lockchan.Open(lockchan.Options{
		Path:         cfg.LockPathAbs,
		Variant:      cfg.Variant,
		PollInterval: cfg.Poll,
		MaxWait:      cfg.Wait,
	})
}

func openView(cfg *config.Config, path string) (*zeroview.View, error) {
	if cfg.LockPathAbs == "" {
		return nil, errNoLockPath
	}

	return zeroview.Open(zeroview.Options{
		Path:         resolvePath(cfg, path),
		LockPath:     cfg.LockPathAbs,
		LockVariant:  cfg.Variant,
		PollInterval: cfg.Poll,
		MaxWait:      cfg.Wait,
	})
}

func attachWriter(cfg *config.Config, path string) (*growfile.Writer, error) {
	if cfg.LockPathAbs == "" {
		return nil, errNoLockPath
	}

	opts := growfile.Options{
		Path:        resolvePath(cfg, path),
		LockPath:    cfg.LockPathAbs,
		LockVariant: cfg.Variant,
		BlockSize:   cfg.BlockSize,
		Growth:      cfg.GrowthPolicy,
		SyncData:    cfg.SyncData,
	}

	if cfg.GrowthPolicy == growfile.GrowReallocate {
		opts.Reallocator = newReallocator(cfg)
	}

	return growfile.Attach(opts)
}

func newReallocator(cfg *config.Config) growfile.Reallocator {
	if len(cfg.ReallocCommand) > 0 {
		return realloc.Exec{Argv: cfg.ReallocCommand}
	}

	return realloc.Copy{}
}
