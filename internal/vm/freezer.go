package vm

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Freezer tracks tables marked read-only.
//
// gopher-lua has no per-table immutability flag. Go callers write through
// RawSet and SetMetatable, which check the mark. Scripts are covered by
// Install, which guards rawset, setmetatable, table.insert and table.remove.
// Plain field assignment from a script is not intercepted.
type Freezer struct {
	mu     sync.RWMutex
	frozen map[*lua.LTable]struct{}
}

// NewFreezer creates an empty freezer.
func NewFreezer() *Freezer {
	return &Freezer{frozen: make(map[*lua.LTable]struct{})}
}

// SetReadOnly marks or unmarks t.
func (f *Freezer) SetReadOnly(t *lua.LTable, readOnly bool) {
	if t == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if readOnly {
		f.frozen[t] = struct{}{}
	} else {
		delete(f.frozen, t)
	}
}

// IsReadOnly returns true if t is marked read-only.
func (f *Freezer) IsReadOnly(t *lua.LTable) bool {
	if t == nil {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.frozen[t]
	return ok
}

// RawSet writes k=v into t unless t is read-only.
func (f *Freezer) RawSet(t *lua.LTable, k, v lua.LValue) error {
	if f.IsReadOnly(t) {
		return ErrReadOnly
	}
	t.RawSet(k, v)
	return nil
}

// SetMetatable replaces the metatable of t unless t is read-only.
func (f *Freezer) SetMetatable(t *lua.LTable, mt lua.LValue) error {
	if f.IsReadOnly(t) {
		return ErrReadOnly
	}
	t.Metatable = mt
	return nil
}

// Len returns the number of read-only tables.
func (f *Freezer) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.frozen)
}

// Reset clears every mark.
func (f *Freezer) Reset() {
	f.mu.Lock()
	f.frozen = make(map[*lua.LTable]struct{})
	f.mu.Unlock()
}

// Install guards the script-side table mutators of L against read-only
// tables. The originals stay reachable through the wrappers only.
func (f *Freezer) Install(L *lua.LState) {
	globals := L.G.Global
	f.guard(L, globals, "rawset")
	f.guard(L, globals, "setmetatable")

	if tbl, ok := globals.RawGetString(lua.TabLibName).(*lua.LTable); ok {
		f.guard(L, tbl, "insert")
		f.guard(L, tbl, "remove")
	}
}

// guard replaces holder[name] with a wrapper that refuses read-only tables
// as the first argument.
func (f *Freezer) guard(L *lua.LState, holder *lua.LTable, name string) {
	orig, ok := holder.RawGetString(name).(*lua.LFunction)
	if !ok {
		return
	}
	holder.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
		if t, ok := L.Get(1).(*lua.LTable); ok && f.IsReadOnly(t) {
			L.RaiseError("%s", ErrReadOnly.Error())
			return 0
		}
		top := L.GetTop()
		L.Push(orig)
		for i := 1; i <= top; i++ {
			L.Push(L.Get(i))
		}
		L.Call(top, lua.MultRet)
		return L.GetTop() - top
	}))
}
