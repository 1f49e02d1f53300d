package config

import (
	lua "github.com/yuin/gopher-lua"
)

// blockedGlobals are removed before any configuration code runs.
var blockedGlobals = []string{
	"os", "io", "debug",
	"require", "dofile", "loadfile", "load", "loadstring", "module",
	"collectgarbage", "newproxy",
}

// newSandboxedVM returns a VM with only the string, table and math libraries
// and the basic functions left.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
