package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krmanik/ankiaddons/internal/config"
	"github.com/krmanik/ankiaddons/internal/download"
	"github.com/krmanik/ankiaddons/internal/download/downloadtest"
	"github.com/krmanik/ankiaddons/internal/registry"
	"github.com/krmanik/ankiaddons/internal/service"
	"github.com/krmanik/ankiaddons/internal/testutil"
)

type staticRegistry map[string][]byte

func (r staticRegistry) FetchManifest(ctx context.Context, name string) ([]byte, error) {
	if data, ok := r[name]; ok {
		return data, nil
	}
	return nil, registry.ErrNotFound
}

const addonPackage = `{"name":"valid-js-addon","addonTitle":"Valid Addon","version":"1.0.0","main":"index.js",` +
	`"ankidroidJsApi":"0.0.1","addonType":"reviewer","keywords":["ankidroid-js-addon"],` +
	`"homepage":"https://example.com"}`

// harness runs the CLI against a fake registry and download subsystem.
type harness struct {
	env testutil.Env
	reg staticRegistry
	sub *downloadtest.Subsystem
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	env := testutil.SetupTestEnv(t)
	t.Setenv("ADDONCTL_POLL_INTERVAL", "5ms")

	archive := testutil.AddonArchive(t, addonPackage)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(addonPackage), &doc))
	doc["dist"] = map[string]any{
		"tarball": "https://registry.npmjs.org/valid-js-addon/-/valid-js-addon-1.0.0.tgz",
	}
	manifestJSON, err := json.Marshal(doc)
	require.NoError(t, err)

	h := &harness{
		env: env,
		reg: staticRegistry{"valid-js-addon": manifestJSON},
		sub: downloadtest.New(env.DownloadDir),
	}
	h.sub.OnEnqueue = func(id download.JobID, req download.Request) {
		go func() { _ = h.sub.Succeed(id, archive) }()
	}
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	a := newApp()
	a.build = func(cfg config.Config, opts service.BuildOptions) (*service.Services, error) {
		opts.Registry = h.reg
		opts.Subsystem = h.sub
		return service.Build(cfg, opts)
	}
	cmd := newRootCmd(a)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "addonctl "+Version)
}

func TestInstallListInfoRemove(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "install", "-q", "--enable", "https://www.npmjs.com/package/valid-js-addon")
	require.NoError(t, err)
	assert.Contains(t, out, "Installed valid-js-addon 1.0.0")
	assert.Contains(t, out, "Enabled valid-js-addon")
	assert.FileExists(t, filepath.Join(h.env.AddonsDir, "valid-js-addon", "package", "index.js"))

	out, _, err = h.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "valid-js-addon")
	assert.Contains(t, out, "yes")

	out, _, err = h.run(t, "info", "valid-js-addon")
	require.NoError(t, err)
	assert.Contains(t, out, "Valid Addon")
	assert.Contains(t, out, "reviewer")

	out, _, err = h.run(t, "disable", "valid-js-addon")
	require.NoError(t, err)
	assert.Contains(t, out, "Disabled valid-js-addon")

	out, _, err = h.run(t, "list", "--enabled")
	require.NoError(t, err)
	assert.Contains(t, out, "No addons installed.")

	out, _, err = h.run(t, "enable", "valid-js-addon")
	require.NoError(t, err)
	assert.Contains(t, out, "Enabled valid-js-addon")

	out, _, err = h.run(t, "remove", "valid-js-addon", "other-addon")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed valid-js-addon")
	assert.NoDirExists(t, filepath.Join(h.env.AddonsDir, "valid-js-addon"))
}

func TestInstall_Failures(t *testing.T) {
	h := newHarness(t)

	_, stderr, err := h.run(t, "install", "-q", "missing-addon", "Bad/Name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 addons not installed")
	assert.Contains(t, stderr, "missing-addon: no such package")
	assert.Contains(t, stderr, "is not a valid addon")
}

func TestList_UnknownKind(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run(t, "list", "--kind", "toolbar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown addon kind")
}

func TestInfo_NotInstalled(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run(t, "info", "valid-js-addon")
	require.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "config", "init")
	require.NoError(t, err)
	path := filepath.Join(h.env.ConfigDir, config.FileName)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, _, err = h.run(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, os.WriteFile(path, []byte(`addonctl = { registry_url = "https://npm.example.com" }`), 0o600))
	out, _, err = h.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"https://npm.example.com"`)

	out, _, err = h.run(t, "--registry", "https://flag.example.com", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"https://flag.example.com"`)
}

func TestConfigLoadError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.env.ConfigDir, config.FileName), []byte(`addonctl = 42`), 0o600))

	_, _, err := h.run(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
