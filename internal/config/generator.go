package config

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Generator writes a Config back out as addons.lua.
type Generator struct {
	indent string
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{indent: "  "}
}

// Generate renders cfg. Empty optional strings are written as comments so
// the file documents every key.
func (g *Generator) Generate(cfg Config) string {
	var buf bytes.Buffer

	buf.WriteString("-- addonctl configuration\n")
	buf.WriteString("-- Generated: ")
	buf.WriteString(time.Now().UTC().Format(time.RFC3339))
	buf.WriteString("\n\n")
	buf.WriteString(luaGlobal + " = {\n")

	g.str(&buf, "data_dir", cfg.DataDir)
	g.str(&buf, "addons_dir", cfg.AddonsDir)
	g.str(&buf, "download_dir", cfg.DownloadDir)
	buf.WriteString("\n")
	g.str(&buf, "registry_url", cfg.RegistryURL)
	g.str(&buf, "api_version", cfg.APIVersion)
	g.raw(&buf, "http_timeout", strconv.Quote(cfg.HTTPTimeout.String()))
	g.raw(&buf, "retries", strconv.Itoa(cfg.Retries))
	g.raw(&buf, "rate_limit", strconv.FormatFloat(cfg.RateLimit, 'g', -1, 64))
	buf.WriteString("\n")
	g.raw(&buf, "poll_interval", strconv.Quote(cfg.PollInterval.String()))
	g.raw(&buf, "max_archive_bytes", strconv.FormatInt(cfg.MaxArchiveBytes, 10))
	g.raw(&buf, "max_entries", strconv.Itoa(cfg.MaxEntries))
	buf.WriteString("\n")
	g.str(&buf, "keyring", cfg.Keyring)
	g.raw(&buf, "require_signature", strconv.FormatBool(cfg.RequireSignature))
	g.str(&buf, "metrics_file", cfg.MetricsFile)
	buf.WriteString("\n")

	buf.WriteString(g.indent + "log = {\n")
	inner := &Generator{indent: g.indent + g.indent}
	inner.str(&buf, "level", cfg.Log.Level)
	inner.raw(&buf, "development", strconv.FormatBool(cfg.Log.Development))
	if len(cfg.Log.OutputPaths) > 0 {
		buf.WriteString(inner.indent + "outputs = {")
		for i, p := range cfg.Log.OutputPaths {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(quoteLuaString(p))
		}
		buf.WriteString("},\n")
	}
	buf.WriteString(g.indent + "},\n")

	buf.WriteString("}\n")
	return buf.String()
}

func (g *Generator) raw(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s%s = %s,\n", g.indent, key, value)
}

func (g *Generator) str(buf *bytes.Buffer, key, value string) {
	if value == "" {
		fmt.Fprintf(buf, "%s-- %s = \"\",\n", g.indent, key)
		return
	}
	g.raw(buf, key, quoteLuaString(value))
}

// quoteLuaString quotes s as a Lua string literal. Go's %q escapes are a
// subset of Lua's except \u, so non-ASCII runes are written raw.
func quoteLuaString(s string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&buf, `\%03d`, c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte('"')
	return buf.String()
}
