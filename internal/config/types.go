package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-multierror"

	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/manifest"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "addons.lua"

// Config holds every tunable of the acquisition pipeline.
type Config struct {
	DataDir     string `envconfig:"DATA_DIR"`
	AddonsDir   string `envconfig:"ADDONS_DIR"`
	DownloadDir string `envconfig:"DOWNLOAD_DIR"`

	RegistryURL string        `envconfig:"REGISTRY_URL"`
	APIVersion  string        `envconfig:"API_VERSION"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT"`
	Retries     int           `envconfig:"RETRIES"`
	RateLimit   float64       `envconfig:"RATE_LIMIT"` // registry requests per second, 0 for unlimited

	PollInterval    time.Duration `envconfig:"POLL_INTERVAL"`
	MaxArchiveBytes int64         `envconfig:"MAX_ARCHIVE_BYTES"`
	MaxEntries      int           `envconfig:"MAX_ENTRIES"`

	Keyring          string `envconfig:"KEYRING"`
	RequireSignature bool   `envconfig:"REQUIRE_SIGNATURE"`

	MetricsFile string `envconfig:"METRICS_FILE"`

	Log logging.Config `envconfig:"LOG"`
}

// Default returns the built-in configuration. Directory fields derived from
// DataDir are left empty and filled by Finalize.
func Default() Config {
	return Config{
		DataDir:         defaultDataDir(),
		RegistryURL:     "https://registry.npmjs.org",
		APIVersion:      manifest.DefaultAPIVersion,
		HTTPTimeout:     30 * time.Second,
		Retries:         3,
		PollInterval:    100 * time.Millisecond,
		MaxArchiveBytes: 256 << 20,
		MaxEntries:      10000,
		Log:             logging.DefaultConfig(),
	}
}

// Finalize fills derived directories and validates the result.
func (c *Config) Finalize() error {
	if c.AddonsDir == "" && c.DataDir != "" {
		c.AddonsDir = filepath.Join(c.DataDir, "addons")
	}
	if c.DownloadDir == "" && c.DataDir != "" {
		c.DownloadDir = filepath.Join(c.DataDir, "downloads")
	}
	return c.Validate()
}

// PrefsPath is the enabled-addons preference file.
func (c *Config) PrefsPath() string {
	return filepath.Join(c.DataDir, "prefs.json")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	for name, dir := range map[string]string{
		"data_dir":     c.DataDir,
		"addons_dir":   c.AddonsDir,
		"download_dir": c.DownloadDir,
	} {
		if dir == "" {
			result = multierror.Append(result, fmt.Errorf("%s: must not be empty", name))
		}
	}

	if u, err := url.Parse(c.RegistryURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("registry_url: %q is not an http(s) URL", c.RegistryURL))
	}
	if _, err := semver.StrictNewVersion(c.APIVersion); err != nil {
		result = multierror.Append(result, fmt.Errorf("api_version: %w", err))
	}
	if c.HTTPTimeout <= 0 {
		result = multierror.Append(result, errors.New("http_timeout: must be positive"))
	}
	if c.PollInterval <= 0 {
		result = multierror.Append(result, errors.New("poll_interval: must be positive"))
	}
	if c.Retries < 0 {
		result = multierror.Append(result, errors.New("retries: must not be negative"))
	}
	if c.RateLimit < 0 {
		result = multierror.Append(result, errors.New("rate_limit: must not be negative"))
	}
	if c.MaxArchiveBytes <= 0 {
		result = multierror.Append(result, errors.New("max_archive_bytes: must be positive"))
	}
	if c.MaxEntries <= 0 {
		result = multierror.Append(result, errors.New("max_entries: must be positive"))
	}
	if c.RequireSignature && c.Keyring == "" {
		result = multierror.Append(result, errors.New("require_signature: needs a keyring"))
	}

	return result.ErrorOrNil()
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "addonctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".addonctl"
	}
	return filepath.Join(home, ".local", "share", "addonctl")
}

// DefaultConfigDir is where addons.lua lives unless ADDONCTL_CONFIG_DIR says otherwise.
func DefaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".addonctl"
	}
	return filepath.Join(dir, "addonctl")
}
