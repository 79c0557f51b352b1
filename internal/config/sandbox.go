package config

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM strips the globals that reach outside the VM: command
// execution, file access and code loading. string, table and math stay.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range []string{
		"os",
		"io",
		"debug",
		"require",
		"module",
		"package",
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"collectgarbage",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}
