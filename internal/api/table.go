package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/fault"
	"github.com/dshills/lumen/internal/identity"
)

// TableModule exposes raw metatable access and read-only marks.
type TableModule struct {
	ctx *Context
}

// NewTableModule creates the table module.
func NewTableModule(ctx *Context) *TableModule {
	return &TableModule{ctx: ctx}
}

// Name returns the module name.
func (m *TableModule) Name() string { return "table" }

// RequiredIdentity returns the identity needed to change metatables and
// read-only marks.
func (m *TableModule) RequiredIdentity() int { return identity.PrivilegedThreshold }

// Register installs the module globals.
func (m *TableModule) Register(L *lua.LState) error {
	c := m.ctx
	level := m.RequiredIdentity()

	c.global(L, "getrawmetatable", m.getrawmetatable)
	c.global(L, "setrawmetatable", c.privileged("setrawmetatable", level, m.setrawmetatable))
	c.global(L, "setreadonly", c.privileged("setreadonly", level, m.setreadonly))
	c.global(L, "isreadonly", m.isreadonly)
	c.global(L, "makereadonly", c.privileged("makereadonly", level, m.mark("makereadonly", true)))
	c.global(L, "makewriteable", c.privileged("makewriteable", level, m.mark("makewriteable", false)))
	return nil
}

// getrawmetatable returns the metatable of a value, ignoring __metatable.
func (m *TableModule) getrawmetatable(L *lua.LState) int {
	switch v := L.Get(1).(type) {
	case *lua.LTable:
		L.Push(v.Metatable)
	case *lua.LUserData:
		L.Push(v.Metatable)
	default:
		L.Push(L.GetMetatable(v))
	}
	return 1
}

// setrawmetatable replaces the metatable of a table or userdata, ignoring
// __metatable, and returns the object.
func (m *TableModule) setrawmetatable(L *lua.LState) int {
	const op = "setrawmetatable"
	obj := L.Get(1)
	mt := L.Get(2)
	if _, ok := mt.(*lua.LTable); !ok && mt != lua.LNil {
		raise(L, fault.New(fault.KindInvalidArgument, op,
			"bad argument #2 (table or nil expected, got %s)", mt.Type().String()))
		return 0
	}

	switch v := obj.(type) {
	case *lua.LTable:
		if err := m.ctx.Freezer.SetMetatable(v, mt); err != nil {
			raise(L, err)
			return 0
		}
	case *lua.LUserData:
		v.Metatable = mt
	default:
		raise(L, fault.New(fault.KindInvalidArgument, op,
			"bad argument #1 (table or userdata expected, got %s)", obj.Type().String()))
		return 0
	}
	L.Push(obj)
	return 1
}

// setreadonly marks or clears the read-only flag of a table. The flag guards
// rawset, setmetatable, setrawmetatable, table.insert and table.remove.
// Plain field assignment (t.x = 1) is not intercepted and still writes to
// the table.
func (m *TableModule) setreadonly(L *lua.LState) int {
	t := checkTable(L, "setreadonly", 1)
	m.ctx.Freezer.SetReadOnly(t, L.ToBool(2))
	return 0
}

// isreadonly reports the flag set by setreadonly. A table reported as
// read-only can still be changed by plain field assignment.
func (m *TableModule) isreadonly(L *lua.LState) int {
	L.Push(lua.LBool(m.ctx.Freezer.IsReadOnly(checkTable(L, "isreadonly", 1))))
	return 1
}

func (m *TableModule) mark(op string, readOnly bool) lua.LGFunction {
	return func(L *lua.LState) int {
		m.ctx.Freezer.SetReadOnly(checkTable(L, op, 1), readOnly)
		return 0
	}
}
