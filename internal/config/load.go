package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"

	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/platform"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ADDONCTL"

// Options controls Load.
type Options struct {
	// ConfigDir overrides ADDONCTL_CONFIG_DIR and the default location.
	ConfigDir string
	Detector  platform.Detector
	Logger    logging.Logger
}

type locator struct {
	ConfigDir string `envconfig:"CONFIG_DIR"`
}

// Load resolves the configuration from defaults, addons.lua and the
// environment. The result is not finalized so the caller can still apply
// flags before calling Finalize.
func Load(ctx context.Context, opts Options) (Config, error) {
	log := logging.OrNop(opts.Logger)
	cfg := Default()

	dir, err := ConfigDir(opts.ConfigDir)
	if err != nil {
		return cfg, err
	}

	path := filepath.Join(dir, FileName)
	cfg, err = NewParser(opts.Detector).ParseFile(ctx, path, cfg)
	switch {
	case err == nil:
		log.Debug("loaded config file", "path", path)
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("no config file", "path", path)
	default:
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

// ConfigDir returns override, else ADDONCTL_CONFIG_DIR, else the per-user default.
func ConfigDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	var loc locator
	if err := envconfig.Process(EnvPrefix, &loc); err != nil {
		return "", fmt.Errorf("environment: %w", err)
	}
	if loc.ConfigDir != "" {
		return loc.ConfigDir, nil
	}
	return DefaultConfigDir(), nil
}
