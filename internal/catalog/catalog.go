// Package catalog lists and removes installed addons.
//
// Each addon lives in <root>/<name>. Registry tarballs unpack into a
// package/ subdirectory, so the manifest is looked up at
// <root>/<name>/package/package.json first and <root>/<name>/package.json
// second.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/krmanik/ankiaddons/internal/logging"
	"github.com/krmanik/ankiaddons/internal/manifest"
	"github.com/krmanik/ankiaddons/internal/prefs"
)

// ErrNotInstalled is returned for names with no addon directory.
var ErrNotInstalled = errors.New("addon is not installed")

// Addon is an installed addon.
type Addon struct {
	Manifest *manifest.Manifest
	// Dir is the addon directory, <root>/<name>.
	Dir string
	// PackageDir is the directory holding package.json.
	PackageDir string
	// EntryPath is the resolved path of the manifest's main file.
	EntryPath string
}

// Problem describes an addon directory that could not be loaded.
type Problem struct {
	Name string
	Err  error
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s: %v", p.Name, p.Err)
}

// Catalog reads the addons root.
type Catalog struct {
	root    string
	hostAPI string
	enabled *prefs.Enabled
	logger  logging.Logger
}

// New creates a catalog over root. enabled may be nil, in which case Remove
// leaves preferences alone.
func New(root, hostAPI string, enabled *prefs.Enabled, logger logging.Logger) *Catalog {
	return &Catalog{
		root:    root,
		hostAPI: hostAPI,
		enabled: enabled,
		logger:  logging.OrNop(logger),
	}
}

// Root returns the addons root directory.
func (c *Catalog) Root() string {
	return c.root
}

// List loads every installed addon, sorted by name. Directories that do not
// hold a valid manifest are reported as problems rather than failing the
// whole listing.
func (c *Catalog) List() ([]Addon, []Problem, error) {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read addons dir: %w", err)
	}

	var (
		addons   []Addon
		problems []Problem
	)
	for _, entry := range entries {
		name := entry.Name()
		// Staging directories and locks are dot-prefixed.
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		addon, err := c.load(name)
		if err != nil {
			c.logger.Debug("skipping addon", "addon", name, "error", err)
			problems = append(problems, Problem{Name: name, Err: err})
			continue
		}
		addons = append(addons, addon)
	}

	sort.Slice(addons, func(i, j int) bool { return addons[i].Manifest.Name < addons[j].Manifest.Name })
	return addons, problems, nil
}

// Get loads the installed addon called name.
func (c *Catalog) Get(name string) (Addon, error) {
	if err := manifest.CheckName(name); err != nil {
		return Addon{}, err
	}
	if _, err := os.Stat(filepath.Join(c.root, name)); errors.Is(err, os.ErrNotExist) {
		return Addon{}, fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	return c.load(name)
}

// Remove deletes the addon directory and disables the addon for every kind.
func (c *Catalog) Remove(name string) error {
	if err := manifest.CheckName(name); err != nil {
		return err
	}
	dir := filepath.Join(c.root, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	if c.enabled != nil {
		if err := c.enabled.DisableEverywhere(name); err != nil {
			return fmt.Errorf("update preferences for %s: %w", name, err)
		}
	}

	c.logger.Info("addon removed", "addon", name)
	return nil
}

func (c *Catalog) load(name string) (Addon, error) {
	dir := filepath.Join(c.root, name)

	var (
		data   []byte
		pkgDir string
		err    error
	)
	for _, candidate := range []string{filepath.Join(dir, "package"), dir} {
		data, err = os.ReadFile(filepath.Join(candidate, "package.json"))
		if err == nil {
			pkgDir = candidate
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return Addon{}, fmt.Errorf("read manifest: %w", err)
		}
	}
	if pkgDir == "" {
		return Addon{}, errors.New("no package.json found")
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return Addon{}, err
	}
	if err := manifest.Validate(m, c.hostAPI); err != nil {
		return Addon{}, err
	}
	if m.Name != name {
		return Addon{}, fmt.Errorf("manifest names %q but is installed as %q", m.Name, name)
	}

	entry, err := securejoin.SecureJoin(pkgDir, m.Main)
	if err != nil {
		return Addon{}, fmt.Errorf("resolve main %q: %w", m.Main, err)
	}

	return Addon{Manifest: m, Dir: dir, PackageDir: pkgDir, EntryPath: entry}, nil
}
