package vm

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// refsRegistryKey is the Lua registry slot holding the reference table.
const refsRegistryKey = "lumen.refs"

// NoRef is never returned by Ref.
const NoRef = 0

// RefTable holds durable references to Lua values.
//
// A referenced value stays reachable through the Lua registry until Unref is
// called, so the garbage collector never reclaims it and registry
// enumeration sees it.
type RefTable struct {
	mu    sync.Mutex
	table *lua.LTable
	free  []int
	next  int
	count int
}

// NewRefTable creates a reference table and stores it in the registry of L.
func NewRefTable(L *lua.LState) *RefTable {
	t := L.NewTable()
	L.G.Registry.RawSetString(refsRegistryKey, t)
	return &RefTable{table: t, next: 1}
}

// Ref stores v and returns its reference id. Nil values are not stored and
// yield NoRef.
func (r *RefTable) Ref(v lua.LValue) int {
	if v == nil || v == lua.LNil {
		return NoRef
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var id int
	if n := len(r.free); n > 0 {
		id = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		id = r.next
		r.next++
	}
	r.table.RawSetInt(id, v)
	r.count++
	return id
}

// Unref releases id. Unknown ids are ignored.
func (r *RefTable) Unref(id int) {
	if id == NoRef {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.table.RawGetInt(id) == lua.LNil {
		return
	}
	r.table.RawSetInt(id, lua.LNil)
	r.free = append(r.free, id)
	r.count--
}

// Get returns the value held by id, or LNil.
func (r *RefTable) Get(id int) lua.LValue {
	if id == NoRef {
		return lua.LNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.RawGetInt(id)
}

// Len returns the number of live references.
func (r *RefTable) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reset releases every reference.
func (r *RefTable) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int
	r.table.ForEach(func(k, _ lua.LValue) {
		if n, ok := k.(lua.LNumber); ok {
			ids = append(ids, int(n))
		}
	})
	for _, id := range ids {
		r.table.RawSetInt(id, lua.LNil)
	}
	r.free = nil
	r.next = 1
	r.count = 0
}
