package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/gc"
	"github.com/dshills/lumen/internal/identity"
)

// GCModule exposes object enumeration.
type GCModule struct {
	ctx *Context
}

// NewGCModule creates the gc module.
func NewGCModule(ctx *Context) *GCModule {
	return &GCModule{ctx: ctx}
}

// Name returns the module name.
func (m *GCModule) Name() string { return "gc" }

// RequiredIdentity returns the identity needed to enumerate objects.
func (m *GCModule) RequiredIdentity() int { return identity.PrivilegedThreshold }

// Register installs the module globals.
func (m *GCModule) Register(L *lua.LState) error {
	c := m.ctx
	c.global(L, "getgc", c.privileged("getgc", m.RequiredIdentity(), m.getgc))
	c.global(L, "filtergc", c.privileged("filtergc", m.RequiredIdentity(), m.filtergc))
	return nil
}

// getgc([includeTables]) returns an array of live objects.
func (m *GCModule) getgc(L *lua.LState) int {
	objs := m.ctx.GC.Enumerate(L.ToBool(1))
	out := L.CreateTable(len(objs), 0)
	for _, obj := range objs {
		out.Append(obj.Value)
	}
	L.Push(out)
	return 1
}

// filtergc(kind, options[, returnOne]) returns the matching objects, or the
// first match (or nil) when returnOne is true.
func (m *GCModule) filtergc(L *lua.LState) int {
	kind := L.CheckString(1)
	var opts *lua.LTable
	if t, ok := L.Get(2).(*lua.LTable); ok {
		opts = t
	}
	returnOne := L.ToBool(3)

	objs, err := m.ctx.GC.Filter(kind, parseCriteria(opts))
	if err != nil {
		raise(L, err)
		return 0
	}

	if returnOne {
		if len(objs) == 0 {
			L.Push(lua.LNil)
		} else {
			L.Push(objs[0].Value)
		}
		return 1
	}

	out := L.CreateTable(len(objs), 0)
	for _, obj := range objs {
		out.Append(obj.Value)
	}
	L.Push(out)
	return 1
}

// parseCriteria reads a filtergc options table. IgnoreExecutor defaults to
// true.
func parseCriteria(opts *lua.LTable) gc.Criteria {
	c := gc.Criteria{IgnoreExecutor: true}
	if opts == nil {
		return c
	}

	if s, ok := opts.RawGetString("Name").(lua.LString); ok {
		c.Name = string(s)
	}
	if s, ok := opts.RawGetString("Hash").(lua.LString); ok {
		c.Hash = string(s)
	}
	if v := opts.RawGetString("IgnoreExecutor"); v != lua.LNil {
		c.IgnoreExecutor = lua.LVAsBool(v)
	}
	if n, ok := opts.RawGetString("UpvalueCount").(lua.LNumber); ok {
		v := int(n)
		c.UpvalueCount = &v
	}
	if n, ok := opts.RawGetString("ConstantCount").(lua.LNumber); ok {
		v := int(n)
		c.ConstantCount = &v
	}

	if t, ok := opts.RawGetString("Keys").(*lua.LTable); ok {
		c.Keys = arrayValues(t)
	}
	if t, ok := opts.RawGetString("Values").(*lua.LTable); ok {
		c.Values = arrayValues(t)
	}
	if t, ok := opts.RawGetString("KeyValuePairs").(*lua.LTable); ok {
		t.ForEach(func(k, v lua.LValue) {
			c.KeyValuePairs = append(c.KeyValuePairs, gc.Pair{Key: k, Value: v})
		})
	}
	if mt, ok := opts.RawGetString("Metatable").(*lua.LTable); ok {
		c.Metatable = mt
	}
	return c
}

func arrayValues(t *lua.LTable) []lua.LValue {
	n := t.Len()
	out := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, t.RawGetInt(i))
	}
	return out
}
