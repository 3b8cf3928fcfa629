// Package identity tracks the capability level of each execution context.
//
// An execution context is any comparable handle for a unit of script
// execution; the runtime uses the *lua.LState of the running thread. Each
// context carries an integer level in [MinLevel, MaxLevel]. Contexts that
// never set a level report the registry default, which starts at
// LevelExecutor.
//
//	reg := identity.NewRegistry()
//	reg.Get(L)                // 2
//	_ = reg.Set(L, 7)
//	reg.IsPrivileged(L)       // true
//
// Levels at or above PrivilegedThreshold are executor-level; scripts use
// checkcaller() to test this before touching sensitive state.
package identity
