package vm

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// CloneFunction returns a new callable with a distinct identity that behaves
// exactly like fn at the time of the call. The clone shares fn's prototype,
// Go function, environment and upvalue cells.
func CloneFunction(fn *lua.LFunction) *lua.LFunction {
	if fn == nil {
		return nil
	}
	clone := *fn
	if fn.Upvalues != nil {
		clone.Upvalues = make([]*lua.Upvalue, len(fn.Upvalues))
		copy(clone.Upvalues, fn.Upvalues)
	}
	return &clone
}

// OverwriteFunction replaces the behaviour of dst with the behaviour of src.
// dst keeps its identity, so every holder of dst calls src's behaviour
// afterwards.
//
// Overwriting a Lua function that is currently on a call stack is undefined;
// callers check with IsActive first.
func OverwriteFunction(dst, src *lua.LFunction) {
	if dst == nil || src == nil || dst == src {
		return
	}
	*dst = *CloneFunction(src)
}

// IsActive returns true if fn is executing anywhere on L's call stack.
func IsActive(L *lua.LState, fn *lua.LFunction) bool {
	depth := L.Options.CallStackSize
	if depth <= 0 {
		depth = DefaultCallStackSize
	}
	for level := 0; level < depth; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			return false
		}
		active, err := L.GetInfo("f", dbg, lua.LNil)
		if err == nil && active == fn {
			return true
		}
	}
	return false
}

// IsGoFunction returns true if fn is implemented in Go.
func IsGoFunction(fn *lua.LFunction) bool {
	return fn != nil && fn.IsG
}

// SourceName returns the chunk name a Lua function was compiled from, or
// "[G]" for Go functions.
func SourceName(fn *lua.LFunction) string {
	if fn == nil {
		return ""
	}
	if fn.IsG || fn.Proto == nil {
		return "[G]"
	}
	return fn.Proto.SourceName
}

// ShortSource returns the display form of a chunk name: "@file" becomes
// "file", "=label" becomes "label", anything else is returned as-is.
func ShortSource(name string) string {
	switch {
	case strings.HasPrefix(name, "@"), strings.HasPrefix(name, "="):
		return name[1:]
	default:
		return name
	}
}

// UpvalueCount returns the number of upvalues of fn.
func UpvalueCount(fn *lua.LFunction) int {
	if fn == nil {
		return 0
	}
	if !fn.IsG && fn.Proto != nil {
		return int(fn.Proto.NumUpvalues)
	}
	return len(fn.Upvalues)
}

// ConstantCount returns the number of constants of a Lua function, or -1 for
// Go functions.
func ConstantCount(fn *lua.LFunction) int {
	if fn == nil || fn.IsG || fn.Proto == nil {
		return -1
	}
	return len(fn.Proto.Constants)
}
