package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSandboxLuaVM(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"string library", `x = string.upper("hello")`, false},
		{"table library", `t = {1, 2}; table.insert(t, 3)`, false},
		{"math library", `x = math.sqrt(16)`, false},
		{"pairs", `for k, v in pairs({a = 1}) do end`, false},

		{"os.execute", `os.execute("ls")`, true},
		{"os.getenv", `x = os.getenv("HOME")`, true},
		{"io.open", `f = io.open("/etc/passwd")`, true},
		{"require", `require("socket")`, true},
		{"dofile", `dofile("/tmp/x.lua")`, true},
		{"loadstring", `loadstring("return 1")()`, true},
		{"debug", `debug.getinfo(1)`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newSandboxedVM()
			defer L.Close()

			err := L.DoString(tt.code)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
