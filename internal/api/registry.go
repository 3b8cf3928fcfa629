package api

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/bridge"
	"github.com/dshills/lumen/internal/console"
	"github.com/dshills/lumen/internal/env"
	"github.com/dshills/lumen/internal/fault"
	"github.com/dshills/lumen/internal/gc"
	"github.com/dshills/lumen/internal/hook"
	"github.com/dshills/lumen/internal/identity"
	"github.com/dshills/lumen/internal/signal"
	"github.com/dshills/lumen/internal/vm"
)

// Module is a group of script globals.
type Module interface {
	// Name returns the module name (e.g., "env", "closure").
	Name() string

	// RequiredIdentity returns the identity needed for the module's
	// privileged entry points.
	RequiredIdentity() int

	// Register installs the module's globals into L.
	Register(L *lua.LState) error
}

// Registry manages API modules and their registration.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module to the registry.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}
	r.modules[mod.Name()] = mod
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	return mod, ok
}

// List returns all registered module names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InjectAll registers every module into L in name order.
func (r *Registry) InjectAll(L *lua.LState) error {
	for _, name := range r.List() {
		mod, _ := r.Get(name)
		if err := mod.Register(L); err != nil {
			return fmt.Errorf("failed to register module %q: %w", name, err)
		}
	}
	return nil
}

// DefaultRegistry creates a registry with all standard modules registered.
func DefaultRegistry(ctx *Context) (*Registry, error) {
	r := NewRegistry()

	modules := []Module{
		NewEnvModule(ctx),
		NewIdentityModule(ctx),
		NewClosureModule(ctx),
		NewTableModule(ctx),
		NewGCModule(ctx),
		NewSignalModule(ctx),
		NewExecModule(ctx),
		NewConsoleModule(ctx),
		NewBridgeModule(ctx),
	}
	for _, mod := range modules {
		if err := r.Register(mod); err != nil {
			return nil, fmt.Errorf("failed to register module %q: %w", mod.Name(), err)
		}
	}
	return r, nil
}

// ExecutorInfo is reported by identifyexecutor.
type ExecutorInfo struct {
	Name    string
	Version string
}

// Context gives modules access to the runtime's components.
type Context struct {
	Executor   ExecutorInfo
	Identities *identity.Registry
	Envs       *env.Manager
	Hooks      *hook.Engine
	GC         *gc.Introspector
	Signals    *signal.Hub
	Console    *console.Console
	Freezer    *vm.Freezer
	Bridge     *bridge.Registry
	Teleport   *TeleportQueue

	Log logrus.FieldLogger
}

func (c *Context) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// define installs fn as holder[name], records it as a builtin and tracks it
// under label.
func (c *Context) define(L *lua.LState, holder *lua.LTable, name, label string, fn lua.LGFunction) *lua.LFunction {
	f := L.NewFunction(fn)
	holder.RawSetString(name, f)
	if c.Hooks != nil {
		c.Hooks.MarkBuiltin(f)
	}
	if c.GC != nil {
		c.GC.Track(label, f)
	}
	return f
}

// global installs fn as a host global.
func (c *Context) global(L *lua.LState, name string, fn lua.LGFunction) *lua.LFunction {
	return c.define(L, L.G.Global, name, name, fn)
}

// privileged wraps fn so it raises unless the calling thread's identity is
// at least level.
func (c *Context) privileged(name string, level int, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if have := c.identity(L); have < level {
			raise(L, fault.New(fault.KindInvalidArgument, name,
				"insufficient identity: requires %d, have %d", level, have))
			return 0
		}
		return fn(L)
	}
}

// identity returns the level of the execution context L runs in. Coroutines
// resolve to the thread that resumed them.
func (c *Context) identity(L *lua.LState) int {
	return c.Identities.Get(vm.RootThread(L))
}

// raise turns err into a Lua error.
func raise(L *lua.LState, err error) {
	L.RaiseError("%s", err.Error())
}
