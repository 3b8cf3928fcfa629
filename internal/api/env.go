package api

import (
	lua "github.com/yuin/gopher-lua"
)

// hiddenContainerKey is the registry slot of the gethui table.
const hiddenContainerKey = "lumen.hui"

// EnvModule exposes the environment tables.
type EnvModule struct {
	ctx *Context
}

// NewEnvModule creates the env module.
func NewEnvModule(ctx *Context) *EnvModule {
	return &EnvModule{ctx: ctx}
}

// Name returns the module name.
func (m *EnvModule) Name() string { return "env" }

// RequiredIdentity returns the identity needed for getreg.
func (m *EnvModule) RequiredIdentity() int { return 2 }

// Register installs the module globals.
func (m *EnvModule) Register(L *lua.LState) error {
	c := m.ctx
	c.global(L, "getgenv", m.getgenv)
	c.global(L, "getrenv", m.getrenv)
	c.global(L, "getsenv", m.getsenv)
	c.global(L, "getmenv", m.getmenv)
	c.global(L, "getreg", c.privileged("getreg", m.RequiredIdentity(), m.getreg))
	c.global(L, "gethui", m.gethui)
	return nil
}

func (m *EnvModule) getgenv(L *lua.LState) int {
	L.Push(m.ctx.Envs.GlobalEnv())
	return 1
}

func (m *EnvModule) getrenv(L *lua.LState) int {
	L.Push(m.ctx.Envs.HostGlobals())
	return 1
}

func (m *EnvModule) getsenv(L *lua.LState) int {
	L.Push(m.ctx.Envs.ScriptEnv(L.Get(1)))
	return 1
}

func (m *EnvModule) getmenv(L *lua.LState) int {
	L.Push(m.ctx.Envs.ModuleEnv(L.Get(1)))
	return 1
}

func (m *EnvModule) getreg(L *lua.LState) int {
	L.Push(L.G.Registry)
	return 1
}

func (m *EnvModule) gethui(L *lua.LState) int {
	reg := L.G.Registry
	hui, ok := reg.RawGetString(hiddenContainerKey).(*lua.LTable)
	if !ok {
		hui = L.NewTable()
		reg.RawSetString(hiddenContainerKey, hui)
	}
	L.Push(hui)
	return 1
}
