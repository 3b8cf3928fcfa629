// Package env manages the environment tables scripts run in.
//
// Three scopes exist. The global env is a process-wide singleton shared by
// every script. Script envs are created per script key. Module envs are
// created per module key and have no fallback. Global and script envs read
// through to the host globals; writes always land in the env itself.
//
// The same key always yields the same table until Reset is called.
package env

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Scope identifies which kind of environment a table is.
type Scope int

// Environment scopes.
const (
	ScopeGlobal Scope = iota
	ScopeScript
	ScopeModule
)

// String returns a string representation of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeScript:
		return "script"
	case ScopeModule:
		return "module"
	default:
		return "unknown"
	}
}

// Manager creates and caches environment tables.
type Manager struct {
	mu sync.Mutex

	L       *lua.LState
	globals *lua.LTable

	genv    *lua.LTable
	scripts map[lua.LValue]*lua.LTable
	modules map[lua.LValue]*lua.LTable

	log logrus.FieldLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a manager whose fallback is the host globals of L.
func NewManager(L *lua.LState, opts ...Option) *Manager {
	m := &Manager{
		L:       L,
		globals: L.G.Global,
		scripts: make(map[lua.LValue]*lua.LTable),
		modules: make(map[lua.LValue]*lua.LTable),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HostGlobals returns the host globals table every fallback reads from.
func (m *Manager) HostGlobals() *lua.LTable {
	return m.globals
}

// GlobalEnv returns the process-wide global environment, creating it on
// first use.
func (m *Manager) GlobalEnv() *lua.LTable {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.genv == nil {
		m.genv = m.newFallbackTable()
		m.log.WithField("scope", ScopeGlobal).Debug("environment created")
	}
	return m.genv
}

// ScriptEnv returns the environment for key, creating it on first use.
// Any value is accepted as a key; identity of reference values and equality
// of plain values decide whether two keys are the same.
func (m *Manager) ScriptEnv(key lua.LValue) *lua.LTable {
	key = normalizeKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	if env, ok := m.scripts[key]; ok {
		return env
	}
	env := m.newFallbackTable()
	m.scripts[key] = env
	m.log.WithFields(logrus.Fields{
		"scope": ScopeScript,
		"key":   key.Type().String(),
	}).Debug("environment created")
	return env
}

// ModuleEnv returns the environment for key. When key is a function, the
// function's own environment is returned. Otherwise a table without fallback
// is created on first use and cached.
func (m *Manager) ModuleEnv(key lua.LValue) *lua.LTable {
	if fn, ok := key.(*lua.LFunction); ok && fn.Env != nil {
		return fn.Env
	}
	key = normalizeKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	if env, ok := m.modules[key]; ok {
		return env
	}
	env := m.L.NewTable()
	m.modules[key] = env
	m.log.WithFields(logrus.Fields{
		"scope": ScopeModule,
		"key":   key.Type().String(),
	}).Debug("environment created")
	return env
}

// Lookup reads name from env, following __index fallbacks.
func (m *Manager) Lookup(env *lua.LTable, name string) lua.LValue {
	for depth := 0; env != nil && depth < maxFallbackDepth; depth++ {
		if v := env.RawGetString(name); v != lua.LNil {
			return v
		}
		mt, ok := env.Metatable.(*lua.LTable)
		if !ok {
			return lua.LNil
		}
		env, _ = mt.RawGetString("__index").(*lua.LTable)
	}
	return lua.LNil
}

// maxFallbackDepth bounds Lookup against fallback cycles.
const maxFallbackDepth = 64

// Each calls fn for every environment created so far. fn must not call back
// into the manager.
func (m *Manager) Each(fn func(scope Scope, key lua.LValue, env *lua.LTable)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.genv != nil {
		fn(ScopeGlobal, lua.LNil, m.genv)
	}
	for k, env := range m.scripts {
		fn(ScopeScript, k, env)
	}
	for k, env := range m.modules {
		fn(ScopeModule, k, env)
	}
}

// Len returns the number of environments created so far.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.scripts) + len(m.modules)
	if m.genv != nil {
		n++
	}
	return n
}

// Forget drops the cached script environment of key.
func (m *Manager) Forget(key lua.LValue) {
	key = normalizeKey(key)

	m.mu.Lock()
	delete(m.scripts, key)
	m.mu.Unlock()
}

// Reset drops every cached environment.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.genv = nil
	m.scripts = make(map[lua.LValue]*lua.LTable)
	m.modules = make(map[lua.LValue]*lua.LTable)
}

// newFallbackTable allocates a table reading through to the host globals.
func (m *Manager) newFallbackTable() *lua.LTable {
	env := m.L.NewTable()
	mt := m.L.NewTable()
	mt.RawSetString("__index", m.globals)
	env.Metatable = mt
	return env
}

// nanKey stands in for every NaN key, which never equals itself.
var nanKey lua.LValue = &lua.LUserData{}

// normalizeKey maps a missing key to LNil and NaN to nanKey.
func normalizeKey(key lua.LValue) lua.LValue {
	if key == nil {
		return lua.LNil
	}
	if n, ok := key.(lua.LNumber); ok && math.IsNaN(float64(n)) {
		return nanKey
	}
	return key
}
