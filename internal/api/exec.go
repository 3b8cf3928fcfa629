package api

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/identity"
	"github.com/dshills/lumen/internal/vm"
)

// LoadStringChunk is the default chunk name of loadstring.
const LoadStringChunk = "=loadstring"

// ExecModule exposes code loading, executor identification, the teleport
// queue and instance references.
type ExecModule struct {
	ctx *Context
}

// NewExecModule creates the exec module.
func NewExecModule(ctx *Context) *ExecModule {
	return &ExecModule{ctx: ctx}
}

// Name returns the module name.
func (m *ExecModule) Name() string { return "exec" }

// RequiredIdentity returns 0; exec functions are open to every script.
func (m *ExecModule) RequiredIdentity() int { return identity.LevelAnonymous }

// Register installs the module globals.
func (m *ExecModule) Register(L *lua.LState) error {
	c := m.ctx
	c.global(L, "loadstring", m.loadstring)
	c.global(L, "identifyexecutor", m.identifyexecutor)
	c.global(L, "getexecutorname", m.getexecutorname)
	c.global(L, "queue_on_teleport", m.queueOnTeleport)
	c.global(L, "queueonteleport", m.queueOnTeleport)
	c.global(L, "getteleportqueue", m.getteleportqueue)
	c.global(L, "clearteleportqueue", m.clearteleportqueue)
	c.global(L, "compareinstances", m.compareinstances)
	c.global(L, "cloneref", m.cloneref)
	return nil
}

// LoadString compiles src with chunk (LoadStringChunk when empty) and binds
// the result to the global environment.
func (c *Context) LoadString(L *lua.LState, src, chunk string) (*lua.LFunction, error) {
	if chunk == "" {
		chunk = LoadStringChunk
	}
	fn, err := vm.Compile(L, src, chunk)
	if err != nil {
		return nil, err
	}
	fn.Env = c.Envs.GlobalEnv()
	return fn, nil
}

// loadstring(src[, chunkname]) returns the compiled function, or nil and the
// compile error.
func (m *ExecModule) loadstring(L *lua.LState) int {
	src := L.CheckString(1)
	fn, err := m.ctx.LoadString(L, src, L.OptString(2, ""))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(fn)
	return 1
}

func (m *ExecModule) identifyexecutor(L *lua.LState) int {
	L.Push(lua.LString(m.ctx.Executor.Name))
	L.Push(lua.LString(m.ctx.Executor.Version))
	return 2
}

func (m *ExecModule) getexecutorname(L *lua.LState) int {
	L.Push(lua.LString(m.ctx.Executor.Name))
	return 1
}

func (m *ExecModule) queueOnTeleport(L *lua.LState) int {
	m.ctx.Teleport.Push(L.CheckString(1))
	return 0
}

func (m *ExecModule) getteleportqueue(L *lua.LState) int {
	queued := m.ctx.Teleport.Snapshot()
	out := L.CreateTable(len(queued), 0)
	for _, src := range queued {
		out.Append(lua.LString(src))
	}
	L.Push(out)
	return 1
}

func (m *ExecModule) clearteleportqueue(L *lua.LState) int {
	m.ctx.Teleport.Drain()
	return 0
}

// compareinstances returns true if both arguments refer to the same
// underlying instance, including references made by cloneref.
func (m *ExecModule) compareinstances(L *lua.LState) int {
	L.Push(lua.LBool(sameInstance(L.Get(1), L.Get(2))))
	return 1
}

// cloneref returns a new userdata sharing the instance, metatable and
// environment of its argument. Other values are returned unchanged.
func (m *ExecModule) cloneref(L *lua.LState) int {
	ud, ok := L.Get(1).(*lua.LUserData)
	if !ok {
		L.Push(L.Get(1))
		return 1
	}
	clone := L.NewUserData()
	clone.Value = ud.Value
	clone.Env = ud.Env
	clone.Metatable = ud.Metatable
	L.Push(clone)
	return 1
}

func sameInstance(a, b lua.LValue) bool {
	if a == b {
		return true
	}
	ua, ok := a.(*lua.LUserData)
	if !ok {
		return false
	}
	ub, ok := b.(*lua.LUserData)
	if !ok || ua.Value == nil || ub.Value == nil {
		return false
	}
	if !reflect.TypeOf(ua.Value).Comparable() || reflect.TypeOf(ua.Value) != reflect.TypeOf(ub.Value) {
		return false
	}
	return ua.Value == ub.Value
}
