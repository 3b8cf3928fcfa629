package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/identity"
)

// BridgeModule lets scripts publish capabilities to native code.
type BridgeModule struct {
	ctx *Context
}

// NewBridgeModule creates the bridge module.
func NewBridgeModule(ctx *Context) *BridgeModule {
	return &BridgeModule{ctx: ctx}
}

// Name returns the module name.
func (m *BridgeModule) Name() string { return "bridge" }

// RequiredIdentity returns the identity needed to register capabilities.
func (m *BridgeModule) RequiredIdentity() int { return identity.PrivilegedThreshold }

// Register installs the global bridge table.
func (m *BridgeModule) Register(L *lua.LState) error {
	c := m.ctx
	mod := L.NewTable()
	c.define(L, mod, "register", "bridge.register",
		c.privileged("bridge.register", m.RequiredIdentity(), m.register))
	c.define(L, mod, "unregister", "bridge.unregister",
		c.privileged("bridge.unregister", m.RequiredIdentity(), m.unregister))
	c.define(L, mod, "list", "bridge.list", m.list)
	L.G.Global.RawSetString("bridge", mod)
	return nil
}

// register(name, fn) returns the capability ID.
func (m *BridgeModule) register(L *lua.LState) int {
	name := L.CheckString(1)
	fn := checkFunction(L, "bridge.register", 2)
	id, err := m.ctx.Bridge.Register(name, fn)
	if err != nil {
		raise(L, err)
		return 0
	}
	L.Push(lua.LString(id.String()))
	return 1
}

func (m *BridgeModule) unregister(L *lua.LState) int {
	L.Push(lua.LBool(m.ctx.Bridge.Unregister(L.CheckString(1))))
	return 1
}

func (m *BridgeModule) list(L *lua.LState) int {
	names := m.ctx.Bridge.Names()
	out := L.CreateTable(len(names), 0)
	for _, name := range names {
		out.Append(lua.LString(name))
	}
	L.Push(out)
	return 1
}
