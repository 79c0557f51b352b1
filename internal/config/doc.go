// Package config loads addonctl settings.
//
// Settings are layered, lowest precedence first:
//
//  1. Built-in defaults (Default)
//  2. addons.lua in the config directory
//  3. ADDONCTL_* environment variables
//  4. Command-line flags, applied by the CLI
//
// # Lua file
//
// addons.lua runs in a sandboxed gopher-lua VM with the os, io, debug and
// module-loading functions removed. A read-only platform table describing the
// host is available, so a file can branch on the operating system:
//
//	addonctl = {
//	  registry_url = "https://registry.npmjs.org",
//	  poll_interval = "250ms",
//	  data_dir = platform.is_macos and "/Users/me/Anki/addons" or nil,
//	  log = { level = "info" },
//	}
//
// Durations accept a Go duration string or a number of seconds. Keys left
// nil keep the value from the layer below.
package config
