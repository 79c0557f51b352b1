package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krmanik/ankiaddons/internal/platform"
)

func TestParseString(t *testing.T) {
	p := NewParser(nil)
	cfg, err := p.ParseString(context.Background(), `
		addonctl = {
		  data_dir = "/srv/anki",
		  registry_url = "http://localhost:4873",
		  http_timeout = "10s",
		  poll_interval = 0.5,
		  retries = 5,
		  rate_limit = 2.5,
		  max_archive_bytes = 1048576,
		  max_entries = 50,
		  keyring = "/etc/addonctl/npm.asc",
		  require_signature = true,
		  log = { level = "debug", development = true, outputs = { "stdout", "/tmp/a.log" } },
		}
	`, Default())
	require.NoError(t, err)

	assert.Equal(t, "/srv/anki", cfg.DataDir)
	assert.Equal(t, "http://localhost:4873", cfg.RegistryURL)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5, cfg.Retries)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, int64(1048576), cfg.MaxArchiveBytes)
	assert.Equal(t, 50, cfg.MaxEntries)
	assert.Equal(t, "/etc/addonctl/npm.asc", cfg.Keyring)
	assert.True(t, cfg.RequireSignature)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, []string{"stdout", "/tmp/a.log"}, cfg.Log.OutputPaths)

	// untouched keys keep their defaults
	assert.Equal(t, Default().APIVersion, cfg.APIVersion)
}

func TestParseString_NoTable(t *testing.T) {
	base := Default()
	cfg, err := NewParser(nil).ParseString(context.Background(), `local x = 1`, base)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)
}

func TestParseString_Errors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		message string
		detail  string
	}{
		{"syntax", `addonctl = {`, "Lua error", ""},
		{"not a table", `addonctl = "yes"`, "invalid 'addonctl' value", "expected table"},
		{"wrong type", `addonctl = { retries = "many" }`, "invalid config value", "retries: expected number"},
		{"bad duration", `addonctl = { http_timeout = "soon" }`, "invalid config value", "http_timeout"},
		{"log not table", `addonctl = { log = "debug" }`, "invalid config value", "log: expected table"},
		{"bad output", `addonctl = { log = { outputs = { 1 } } }`, "invalid config value", "log.outputs[1]"},
		{"runtime error", `error("boom")`, "Lua error", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(nil).ParseString(context.Background(), tt.code, Default())
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.message, pe.Message)
			assert.Contains(t, pe.Detail, tt.detail)
		})
	}
}

func TestParseString_CollectsAllErrors(t *testing.T) {
	_, err := NewParser(nil).ParseString(context.Background(),
		`addonctl = { retries = "x", max_entries = "y" }`, Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries")
	assert.Contains(t, err.Error(), "max_entries")
}

func TestParseString_Platform(t *testing.T) {
	p := NewParser(platform.Static{OS: "darwin", Arch: "arm64"})
	cfg, err := p.ParseString(context.Background(), `
		addonctl = {
		  data_dir = platform.is_macos and "/Users/me/anki" or "/home/me/anki",
		}
	`, Default())
	require.NoError(t, err)
	assert.Equal(t, "/Users/me/anki", cfg.DataDir)
}

func TestParseString_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewParser(nil).ParseString(ctx, `while true do end`, Default())
	require.Error(t, err)
}

func TestFormatError(t *testing.T) {
	err := &ParseError{Message: "Lua error", Detail: "line 1: boom\nstack traceback:\n\t[G]: ?"}

	assert.Equal(t, "Lua error: line 1: boom", FormatError(err, false))
	verbose := FormatError(err, true)
	assert.True(t, strings.Contains(verbose, "stack traceback"))
	assert.Equal(t, "plain", FormatError(assertErr("plain"), false))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
