// Package testutil provides utilities for testing addonctl in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Root        string
	ConfigDir   string
	DataDir     string
	AddonsDir   string
	DownloadDir string
}

// SetupTestEnv creates isolated test directories for each test and points
// the ADDONCTL_* environment at them, so tests never touch a real addons
// directory or the user's addons.lua.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := Env{
		Root:        tmpDir,
		ConfigDir:   filepath.Join(tmpDir, "config"),
		DataDir:     filepath.Join(tmpDir, "data"),
		AddonsDir:   filepath.Join(tmpDir, "data", "addons"),
		DownloadDir: filepath.Join(tmpDir, "downloads"),
	}

	t.Setenv("ADDONCTL_CONFIG_DIR", env.ConfigDir)
	t.Setenv("ADDONCTL_DATA_DIR", env.DataDir)
	t.Setenv("ADDONCTL_ADDONS_DIR", env.AddonsDir)
	t.Setenv("ADDONCTL_DOWNLOAD_DIR", env.DownloadDir)

	// Mark as test mode
	t.Setenv("ADDONCTL_TEST_MODE", "1")

	for _, dir := range []string{env.ConfigDir, env.DataDir, env.AddonsDir, env.DownloadDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}
