package runtime

import (
	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
)

// scriptTypeName is the type metatable name of script handles.
const scriptTypeName = "lumen.Script"

// Script identifies a named script. Every run of the same name sees the same
// handle as the global `script`, and the script environment is keyed by it.
type Script struct {
	ID   uuid.UUID
	Name string
}

// scriptEntry is the runtime's record of a loaded script name.
type scriptEntry struct {
	script *Script
	handle *lua.LUserData
}

// newScriptValue wraps s in a userdata carrying the script metatable.
func newScriptValue(L *lua.LState, s *Script) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = s
	ud.Metatable = scriptMetatable(L)
	return ud
}

// ScriptOf returns the script behind v, if v is a script handle.
func ScriptOf(v lua.LValue) (*Script, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	s, ok := ud.Value.(*Script)
	return s, ok
}

func scriptMetatable(L *lua.LState) *lua.LTable {
	if mt, ok := L.GetTypeMetatable(scriptTypeName).(*lua.LTable); ok {
		return mt
	}

	mt := L.NewTypeMetatable(scriptTypeName)
	mt.RawSetString("__index", L.NewFunction(scriptIndex))
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		s, _ := ScriptOf(L.Get(1))
		if s == nil {
			L.Push(lua.LString("Script"))
			return 1
		}
		L.Push(lua.LString("Script(" + s.Name + ")"))
		return 1
	}))
	mt.RawSetString("__metatable", lua.LString("The metatable is locked"))
	return mt
}

// scriptIndex resolves script.Name and script.ID.
func scriptIndex(L *lua.LState) int {
	s, ok := ScriptOf(L.Get(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	switch L.CheckString(2) {
	case "Name":
		L.Push(lua.LString(s.Name))
	case "ID":
		L.Push(lua.LString(s.ID.String()))
	default:
		L.Push(lua.LNil)
	}
	return 1
}
