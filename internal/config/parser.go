package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/krmanik/ankiaddons/internal/platform"
)

const (
	luaGlobal = "addonctl"

	// evaluation budget for addons.lua
	parseTimeout = 2 * time.Second
)

// ParseError represents a config parsing error with a friendly message.
type ParseError struct {
	Message string // user-facing
	Detail  string // raw Lua error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// Parser evaluates addons.lua.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector leaves the platform table out.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseFile evaluates the file at path over base.
func (p *Parser) ParseFile(ctx context.Context, path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	return p.ParseString(ctx, string(data), base)
}

// ParseString evaluates luaCode and overlays the global addonctl table onto base.
func (p *Parser) ParseString(ctx context.Context, luaCode string, base Config) (Config, error) {
	L := newSandboxedVM()
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, parseTimeout)
	defer cancel()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return base, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return base, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return base, &ParseError{Message: "config evaluation timed out", Detail: err.Error()}
		}
		return base, &ParseError{Message: "Lua error", Detail: err.Error()}
	}

	return overlay(L, base)
}

// overlay copies the fields set in the addonctl table onto cfg.
func overlay(L *lua.LState, cfg Config) (Config, error) {
	v := L.GetGlobal(luaGlobal)
	if v.Type() == lua.LTNil {
		return cfg, nil
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		return cfg, &ParseError{
			Message: "invalid 'addonctl' value",
			Detail:  fmt.Sprintf("expected table, got %s", v.Type()),
		}
	}

	r := reader{t: t}
	r.str("data_dir", &cfg.DataDir)
	r.str("addons_dir", &cfg.AddonsDir)
	r.str("download_dir", &cfg.DownloadDir)
	r.str("registry_url", &cfg.RegistryURL)
	r.str("api_version", &cfg.APIVersion)
	r.duration("http_timeout", &cfg.HTTPTimeout)
	r.integer("retries", &cfg.Retries)
	r.float("rate_limit", &cfg.RateLimit)
	r.duration("poll_interval", &cfg.PollInterval)
	r.i64("max_archive_bytes", &cfg.MaxArchiveBytes)
	r.integer("max_entries", &cfg.MaxEntries)
	r.str("keyring", &cfg.Keyring)
	r.boolean("require_signature", &cfg.RequireSignature)
	r.str("metrics_file", &cfg.MetricsFile)

	if lv := t.RawGetString("log"); lv.Type() != lua.LTNil {
		lt, ok := lv.(*lua.LTable)
		if !ok {
			r.fail("log", "table", lv)
		} else {
			lr := reader{t: lt, prefix: "log."}
			lr.str("level", &cfg.Log.Level)
			lr.boolean("development", &cfg.Log.Development)
			lr.strList("outputs", &cfg.Log.OutputPaths)
			r.errs = append(r.errs, lr.errs...)
		}
	}

	if len(r.errs) > 0 {
		return cfg, &ParseError{
			Message: "invalid config value",
			Detail:  strings.Join(r.errs, "; "),
		}
	}
	return cfg, nil
}

// reader pulls typed fields out of a Lua table, collecting type errors.
type reader struct {
	t      *lua.LTable
	prefix string
	errs   []string
}

func (r *reader) fail(key, want string, got lua.LValue) {
	r.errs = append(r.errs, fmt.Sprintf("%s%s: expected %s, got %s", r.prefix, key, want, got.Type()))
}

func (r *reader) get(key string) (lua.LValue, bool) {
	v := r.t.RawGetString(key)
	return v, v.Type() != lua.LTNil
}

func (r *reader) str(key string, dst *string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	s, isStr := v.(lua.LString)
	if !isStr {
		r.fail(key, "string", v)
		return
	}
	*dst = string(s)
}

func (r *reader) boolean(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, isBool := v.(lua.LBool)
	if !isBool {
		r.fail(key, "boolean", v)
		return
	}
	*dst = bool(b)
}

func (r *reader) number(key string) (float64, bool) {
	v, ok := r.get(key)
	if !ok {
		return 0, false
	}
	n, isNum := v.(lua.LNumber)
	if !isNum {
		r.fail(key, "number", v)
		return 0, false
	}
	return float64(n), true
}

func (r *reader) float(key string, dst *float64) {
	if n, ok := r.number(key); ok {
		*dst = n
	}
}

func (r *reader) integer(key string, dst *int) {
	if n, ok := r.number(key); ok {
		*dst = int(n)
	}
}

func (r *reader) i64(key string, dst *int64) {
	if n, ok := r.number(key); ok {
		*dst = int64(n)
	}
}

func (r *reader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	switch x := v.(type) {
	case lua.LNumber:
		*dst = time.Duration(float64(x) * float64(time.Second))
	case lua.LString:
		d, err := time.ParseDuration(string(x))
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s%s: %v", r.prefix, key, err))
			return
		}
		*dst = d
	default:
		r.fail(key, "duration string or seconds", v)
	}
}

func (r *reader) strList(key string, dst *[]string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	t, isTable := v.(*lua.LTable)
	if !isTable {
		r.fail(key, "list of strings", v)
		return
	}
	var out []string
	for i := 1; i <= t.Len(); i++ {
		item := t.RawGetInt(i)
		s, isStr := item.(lua.LString)
		if !isStr {
			r.fail(fmt.Sprintf("%s[%d]", key, i), "string", item)
			return
		}
		out = append(out, string(s))
	}
	*dst = out
}

// FormatError formats err for display. Without verbose, the Lua stack
// traceback is dropped.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		return err.Error()
	}
	if verbose {
		return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
	}
	detail := parseErr.Detail
	if idx := strings.Index(detail, "stack traceback"); idx > 0 {
		detail = strings.TrimSpace(detail[:idx])
	}
	return fmt.Sprintf("%s: %s", parseErr.Message, detail)
}
