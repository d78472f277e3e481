// Package config loads zcshare settings from HuJSON files and CLI overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/zcshare/pkg/growfile"
	"github.com/calvinalkan/zcshare/pkg/lockchan"
)

// Errors returned by [Load].
var (
	ErrConfigInvalid      = errors.New("invalid config")
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
)

// FileName is the project config file looked up in the working directory.
const FileName = ".zcshare.json"

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	LockPath       string   `json:"lock_path,omitempty"`
	LockVariant    string   `json:"lock_variant"`
	PollInterval   string   `json:"poll_interval"`
	MaxWait        string   `json:"max_wait"`
	BlockSize      int64    `json:"block_size"`
	Growth         string   `json:"growth"`
	ReallocCommand []string `json:"realloc_command,omitempty"` // empty selects the built-in copy reallocator
	SyncData       bool     `json:"sync_data"`

	// Resolved (computed, not serialized)
	EffectiveCwd string                `json:"-"`
	LockPathAbs  string                `json:"-"` // empty when no lock path is configured
	Variant      lockchan.Variant      `json:"-"`
	Poll         time.Duration         `json:"-"`
	Wait         time.Duration         `json:"-"` // 0 waits forever
	GrowthPolicy growfile.GrowthPolicy `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LockVariant:  lockchan.Strict.String(),
		PollInterval: lockchan.DefaultPollInterval.String(),
		MaxWait:      "0s",
		BlockSize:    growfile.DefaultBlockSize,
		Growth:       growfile.GrowInPlace.String(),
	}
}

// fileConfig is one config file. Pointer fields distinguish "absent" from
// "set to the zero value".
type fileConfig struct {
	LockPath       *string  `json:"lock_path"`
	LockVariant    *string  `json:"lock_variant"`
	PollInterval   *string  `json:"poll_interval"`
	MaxWait        *string  `json:"max_wait"`
	BlockSize      *int64   `json:"block_size"`
	Growth         *string  `json:"growth"`
	ReallocCommand []string `json:"realloc_command"`
	SyncData       *bool    `json:"sync_data"`
}

// Overrides are CLI flag values. Empty strings and zero values mean
// "not set".
type Overrides struct {
	LockPath     string
	LockVariant  string
	PollInterval string
	MaxWait      string
	BlockSize    int64
	Growth       string
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // per-setting CLI flags
	Env             map[string]string // environment variables
}

// globalPath returns $XDG_CONFIG_HOME/zcshare/config.json, falling back to
// ~/.config/zcshare/config.json. Empty if neither variable is set.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "zcshare", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "zcshare", "config.json")
	}

	return ""
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/zcshare/config.json)
// 3. Project config (.zcshare.json in the working directory), or the
// explicit config file when ConfigPath is set
// 4. CLI overrides.
//
// Relative lock paths are resolved against the working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		fc, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, fc)
			cfg.Sources.Global = path
		}
	}

	projectPath := filepath.Join(workDir, FileName)
	mustExist := false

	if input.ConfigPath != "" {
		projectPath = input.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		mustExist = true
	}

	fc, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, fc)
		cfg.Sources.Project = projectPath
	}

	cfg = applyOverrides(cfg, input.Overrides)
	cfg.EffectiveCwd = workDir

	if err := resolve(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !mustExist {
			if os.IsNotExist(err) {
				return fileConfig{}, false, nil
			}

			return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
		}

		if os.IsNotExist(err) {
			return fileConfig{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}

		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	fc, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return fc, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

func merge(base Config, fc fileConfig) Config {
	if fc.LockPath != nil {
		base.LockPath = *fc.LockPath
	}

	if fc.LockVariant != nil {
		base.LockVariant = *fc.LockVariant
	}

	if fc.PollInterval != nil {
		base.PollInterval = *fc.PollInterval
	}

	if fc.MaxWait != nil {
		base.MaxWait = *fc.MaxWait
	}

	if fc.BlockSize != nil {
		base.BlockSize = *fc.BlockSize
	}

	if fc.Growth != nil {
		base.Growth = *fc.Growth
	}

	if fc.ReallocCommand != nil {
		base.ReallocCommand = fc.ReallocCommand
	}

	if fc.SyncData != nil {
		base.SyncData = *fc.SyncData
	}

	return base
}

func applyOverrides(cfg Config, o Overrides) Config {
	if o.LockPath != "" {
		cfg.LockPath = o.LockPath
	}

	if o.LockVariant != "" {
		cfg.LockVariant = o.LockVariant
	}

	if o.PollInterval != "" {
		cfg.PollInterval = o.PollInterval
	}

	if o.MaxWait != "" {
		cfg.MaxWait = o.MaxWait
	}

	if o.BlockSize != 0 {
		cfg.BlockSize = o.BlockSize
	}

	if o.Growth != "" {
		cfg.Growth = o.Growth
	}

	return cfg
}

// resolve validates cfg and fills in the parsed fields.
func resolve(cfg *Config) error {
	var errs []error

	variant, err := lockchan.ParseVariant(cfg.LockVariant)
	if err != nil {
		errs = append(errs, fmt.Errorf("lock_variant: %q must be simple or strict", cfg.LockVariant))
	}

	poll, err := time.ParseDuration(cfg.PollInterval)
	if err != nil || poll <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval: %q must be a positive duration", cfg.PollInterval))
	}

	wait, err := time.ParseDuration(cfg.MaxWait)
	if err != nil || wait < 0 {
		errs = append(errs, fmt.Errorf("max_wait: %q must be a duration >= 0", cfg.MaxWait))
	}

	if cfg.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block_size: %d must be > 0", cfg.BlockSize))
	}

	growth, err := growfile.ParseGrowthPolicy(cfg.Growth)
	if err != nil {
		errs = append(errs, fmt.Errorf("growth: %q must be in-place or reallocate", cfg.Growth))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	cfg.Variant = variant
	cfg.Poll = poll
	cfg.Wait = wait
	cfg.GrowthPolicy = growth

	if cfg.LockPath != "" {
		cfg.LockPathAbs = cfg.LockPath
		if !filepath.IsAbs(cfg.LockPathAbs) {
			cfg.LockPathAbs = filepath.Join(cfg.EffectiveCwd, cfg.LockPathAbs)
		}
	}

	return nil
}

// Format returns cfg as indented JSON, the same shape a config file uses.
func Format(cfg Config) (string, error) {
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(out), nil
}
