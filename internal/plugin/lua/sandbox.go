package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// Permission strings mirrored from the manifest. Kept as plain strings so
// this package stays import-free of the plugin package.
const (
	permNetwork   = "network"
	permFileRead  = "filesystem.read"
	permFileWrite = "filesystem.write"
	permShell     = "shell"
)

// Sandbox restricts a plugin's Lua state to safe operations.
type Sandbox struct {
	L           *lua.LState
	permissions map[string]bool

	// gated holds the stripped io/os module tables so a permitted require
	// can still hand them back.
	gated map[string]lua.LValue
}

// NewSandbox creates a sandbox over the state with the granted permissions.
func NewSandbox(L *lua.LState, permissions []string) *Sandbox {
	granted := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		granted[p] = true
	}
	return &Sandbox{
		L:           L,
		permissions: granted,
		gated:       make(map[string]lua.LValue),
	}
}

// Has reports whether the sandbox grants the permission.
func (s *Sandbox) Has(permission string) bool {
	return s.permissions[permission]
}

// Install applies the restrictions: code-loading functions are removed, the
// module search path is cleared, and require only resolves whitelisted or
// permission-gated modules.
func (s *Sandbox) Install() {
	// Code loading would bypass every other restriction.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	// Gated modules leave the global scope; require hands them back when the
	// matching permission is granted.
	for _, name := range []string{"io", "os"} {
		s.gated[name] = s.L.GetGlobal(name)
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()
}

// installSafeRequire replaces require with a whitelist-based version. Only
// built-in safe modules, permission-gated modules, and modules preloaded via
// L.PreloadModule resolve; nothing loads from disk.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))

		safeLoaded := map[string]bool{
			"_G": true, "string": true, "table": true, "math": true,
			"package": true,
		}
		if loaded, ok := s.L.GetField(pkg, "loaded").(*lua.LTable); ok {
			var remove []string
			loaded.ForEach(func(k, _ lua.LValue) {
				if ks, ok := k.(lua.LString); ok && !safeLoaded[string(ks)] {
					remove = append(remove, string(ks))
				}
			})
			for _, key := range remove {
				loaded.RawSetString(key, lua.LNil)
			}
		}
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		switch modName {
		case "io":
			if !s.permissions[permFileRead] && !s.permissions[permFileWrite] {
				L.RaiseError("module 'io' requires a filesystem permission")
			}
			L.Push(s.gated["io"])
			return 1
		case "os":
			if !s.permissions[permShell] {
				L.RaiseError("module 'os' requires the shell permission")
			}
			L.Push(s.gated["os"])
			return 1
		}

		if !safeModules[modName] && modName != "gantry" {
			L.RaiseError("module %q is not available", modName)
			return 0
		}

		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}
