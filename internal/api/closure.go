package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/fault"
	"github.com/dshills/lumen/internal/gc"
	"github.com/dshills/lumen/internal/identity"
	"github.com/dshills/lumen/internal/vm"
)

// ClosureModule exposes function hooking and inspection.
type ClosureModule struct {
	ctx *Context
}

// NewClosureModule creates the closure module.
func NewClosureModule(ctx *Context) *ClosureModule {
	return &ClosureModule{ctx: ctx}
}

// Name returns the module name.
func (m *ClosureModule) Name() string { return "closure" }

// RequiredIdentity returns the identity needed to install hooks.
func (m *ClosureModule) RequiredIdentity() int { return identity.PrivilegedThreshold }

// Register installs the module globals.
func (m *ClosureModule) Register(L *lua.LState) error {
	c := m.ctx
	level := m.RequiredIdentity()

	c.global(L, "hookfunction", c.privileged("hookfunction", level, m.hookfunction("hookfunction")))
	c.global(L, "replaceclosure", c.privileged("replaceclosure", level, m.hookfunction("replaceclosure")))
	c.global(L, "restorefunction", c.privileged("restorefunction", level, m.restorefunction))
	c.global(L, "hookmetamethod", c.privileged("hookmetamethod", level, m.hookmetamethod))
	c.global(L, "isfunctionhooked", m.isfunctionhooked)
	c.global(L, "clonefunction", m.clonefunction)
	c.global(L, "newcclosure", m.newcclosure)
	c.global(L, "islclosure", m.islclosure)
	c.global(L, "iscclosure", m.iscclosure)
	c.global(L, "isexecutorclosure", m.isexecutorclosure)
	c.global(L, "checkclosure", m.isexecutorclosure)
	c.global(L, "getfunctionhash", m.getfunctionhash)
	return nil
}

func (m *ClosureModule) hookfunction(op string) lua.LGFunction {
	return func(L *lua.LState) int {
		target := checkFunction(L, op, 1)
		replacement := checkFunction(L, op, 2)

		if vm.IsActive(L, target) {
			raise(L, fault.New(fault.KindPreconditionFailed, op, "cannot hook a function that is running"))
			return 0
		}

		original, err := m.ctx.Hooks.Hook(target, replacement)
		if err != nil {
			raise(L, err)
			return 0
		}
		L.Push(original)
		return 1
	}
}

func (m *ClosureModule) restorefunction(L *lua.LState) int {
	fn := checkFunction(L, "restorefunction", 1)
	L.Push(lua.LBool(m.ctx.Hooks.Restore(fn)))
	return 1
}

func (m *ClosureModule) hookmetamethod(L *lua.LState) int {
	name := L.CheckString(2)
	original, err := m.ctx.Hooks.HookMetamethod(L.Get(1), name, L.Get(3))
	if err != nil {
		raise(L, err)
		return 0
	}
	L.Push(original)
	return 1
}

// isfunctionhooked reports whether fn currently has a hook installed.
// Builtins count only once hooked.
func (m *ClosureModule) isfunctionhooked(L *lua.LState) int {
	_, ok := m.ctx.Hooks.Lookup(checkFunction(L, "isfunctionhooked", 1))
	L.Push(lua.LBool(ok))
	return 1
}

// clonefunction copies fn. A clone of a builtin is a builtin.
func (m *ClosureModule) clonefunction(L *lua.LState) int {
	fn := checkFunction(L, "clonefunction", 1)
	clone := vm.CloneFunction(fn)
	if m.ctx.Hooks.IsBuiltin(fn) {
		m.ctx.Hooks.MarkBuiltin(clone)
	}
	L.Push(clone)
	return 1
}

// newcclosure wraps a function in a Go function with the same behaviour.
func (m *ClosureModule) newcclosure(L *lua.LState) int {
	fn := checkFunction(L, "newcclosure", 1)
	if fn.IsG {
		L.Push(fn)
		return 1
	}

	wrapper := L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		L.Push(fn)
		for i := 1; i <= top; i++ {
			L.Push(L.Get(i))
		}
		L.Call(top, lua.MultRet)
		return L.GetTop() - top
	})
	m.ctx.Hooks.MarkBuiltin(wrapper)
	L.Push(wrapper)
	return 1
}

func (m *ClosureModule) islclosure(L *lua.LState) int {
	L.Push(lua.LBool(!checkFunction(L, "islclosure", 1).IsG))
	return 1
}

func (m *ClosureModule) iscclosure(L *lua.LState) int {
	L.Push(lua.LBool(checkFunction(L, "iscclosure", 1).IsG))
	return 1
}

func (m *ClosureModule) isexecutorclosure(L *lua.LState) int {
	L.Push(lua.LBool(m.ctx.Hooks.IsHooked(checkFunction(L, "isexecutorclosure", 1))))
	return 1
}

func (m *ClosureModule) getfunctionhash(L *lua.LState) int {
	h, err := gc.FunctionHash(checkFunction(L, "getfunctionhash", 1))
	if err != nil {
		raise(L, err)
		return 0
	}
	L.Push(lua.LString(h))
	return 1
}
