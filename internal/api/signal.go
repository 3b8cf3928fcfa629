package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/identity"
	"github.com/dshills/lumen/internal/vm"
)

// connectionTypeName is the registry name of the Connection metatable.
const connectionTypeName = "lumen.Connection"

// connection is the userdata value behind a Connection object.
type connection struct {
	index int
}

// SignalModule exposes named signals and Connection objects.
type SignalModule struct {
	ctx     *Context
	methods *lua.LTable
}

// NewSignalModule creates the signal module.
func NewSignalModule(ctx *Context) *SignalModule {
	return &SignalModule{ctx: ctx}
}

// Name returns the module name.
func (m *SignalModule) Name() string { return "signal" }

// RequiredIdentity returns the identity needed to list foreign connections.
func (m *SignalModule) RequiredIdentity() int { return identity.PrivilegedThreshold }

// Register installs the module globals and the Connection type.
func (m *SignalModule) Register(L *lua.LState) error {
	c := m.ctx

	m.methods = L.NewTable()
	c.define(L, m.methods, "Enable", "Connection.Enable", m.enable)
	c.define(L, m.methods, "Disable", "Connection.Disable", m.disable)
	c.define(L, m.methods, "Disconnect", "Connection.Disconnect", m.disconnect)
	c.define(L, m.methods, "Fire", "Connection.Fire", m.fire)

	mt := L.NewTypeMetatable(connectionTypeName)
	c.define(L, mt, "__index", "Connection.__index", m.index)
	c.define(L, mt, "__tostring", "Connection.__tostring", m.tostring)
	mt.RawSetString("__metatable", lua.LString("The metatable is locked"))

	c.global(L, "connect", m.connect)
	c.global(L, "getconnections", c.privileged("getconnections", m.RequiredIdentity(), m.getconnections))
	c.global(L, "firesignal", c.privileged("firesignal", m.RequiredIdentity(), m.firesignal))
	return nil
}

// newConnection wraps a hub index in a Connection object.
func (m *SignalModule) newConnection(L *lua.LState, index int) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = &connection{index: index}
	L.SetMetatable(ud, L.GetTypeMetatable(connectionTypeName))
	return ud
}

func (m *SignalModule) checkConnection(L *lua.LState) *connection {
	if ud, ok := L.Get(1).(*lua.LUserData); ok {
		if c, ok := ud.Value.(*connection); ok {
			return c
		}
	}
	L.ArgError(1, "Connection expected")
	return nil
}

// connect(signal, fn) subscribes fn to signal and returns its Connection.
func (m *SignalModule) connect(L *lua.LState) int {
	name := L.CheckString(1)
	fn := checkFunction(L, "connect", 2)
	index := m.ctx.Signals.Connect(name, fn, vm.RootThread(L))
	L.Push(m.newConnection(L, index))
	return 1
}

// getconnections([signal]) returns the live connections of signal, or all
// live connections.
func (m *SignalModule) getconnections(L *lua.LState) int {
	name := L.OptString(1, "")
	infos := m.ctx.Signals.Connections(name)
	out := L.CreateTable(len(infos), 0)
	for _, info := range infos {
		out.Append(m.newConnection(L, info.Index))
	}
	L.Push(out)
	return 1
}

// firesignal(signal, ...) fires every enabled connection of signal and
// returns how many ran.
func (m *SignalModule) firesignal(L *lua.LState) int {
	name := L.CheckString(1)
	n := m.ctx.Signals.Emit(L, name, args(L, 2)...)
	L.Push(lua.LNumber(n))
	return 1
}

func (m *SignalModule) enable(L *lua.LState) int {
	m.ctx.Signals.Enable(m.checkConnection(L).index)
	return 0
}

func (m *SignalModule) disable(L *lua.LState) int {
	m.ctx.Signals.Disable(m.checkConnection(L).index)
	return 0
}

func (m *SignalModule) disconnect(L *lua.LState) int {
	m.ctx.Signals.Disconnect(m.checkConnection(L).index)
	return 0
}

func (m *SignalModule) fire(L *lua.LState) int {
	conn := m.checkConnection(L)
	L.Push(lua.LBool(m.ctx.Signals.Fire(L, conn.index, args(L, 2)...)))
	return 1
}

// index resolves methods and the Function, Enabled, Signal and Index
// properties.
func (m *SignalModule) index(L *lua.LState) int {
	conn := m.checkConnection(L)
	key := L.CheckString(2)

	if method := m.methods.RawGetString(key); method != lua.LNil {
		L.Push(method)
		return 1
	}

	info, ok := m.ctx.Signals.Info(conn.index)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	switch key {
	case "Function":
		if info.Function == nil {
			L.Push(lua.LNil)
		} else {
			L.Push(info.Function)
		}
	case "Enabled":
		L.Push(lua.LBool(info.Enabled))
	case "Connected":
		L.Push(lua.LBool(info.Connected))
	case "Signal":
		L.Push(lua.LString(info.Signal))
	case "Index":
		L.Push(lua.LNumber(info.Index))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

func (m *SignalModule) tostring(L *lua.LState) int {
	conn := m.checkConnection(L)
	info, _ := m.ctx.Signals.Info(conn.index)
	L.Push(lua.LString("Connection(" + info.Signal + ")"))
	return 1
}
