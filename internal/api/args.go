package api

import (
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/fault"
)

// checkFunction returns argument n as a function or raises an
// InvalidArgument error naming op.
func checkFunction(L *lua.LState, op string, n int) *lua.LFunction {
	if fn, ok := L.Get(n).(*lua.LFunction); ok {
		return fn
	}
	raise(L, fault.New(fault.KindInvalidArgument, op,
		"bad argument #%d (function expected, got %s)", n, L.Get(n).Type().String()))
	return nil
}

// checkTable returns argument n as a table or raises.
func checkTable(L *lua.LState, op string, n int) *lua.LTable {
	if t, ok := L.Get(n).(*lua.LTable); ok {
		return t
	}
	raise(L, fault.New(fault.KindInvalidArgument, op,
		"bad argument #%d (table expected, got %s)", n, L.Get(n).Type().String()))
	return nil
}

// checkInt returns argument n as an integer or raises. Numbers with a
// fractional part, NaN and infinities are rejected.
func checkInt(L *lua.LState, op string, n int) int {
	if v, ok := L.Get(n).(lua.LNumber); ok {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			raise(L, fault.New(fault.KindInvalidArgument, op,
				"bad argument #%d (number has no integer representation)", n))
			return 0
		}
		return int(v)
	}
	raise(L, fault.New(fault.KindInvalidArgument, op,
		"bad argument #%d (number expected, got %s)", n, L.Get(n).Type().String()))
	return 0
}

// args collects the arguments from n to the top of the stack.
func args(L *lua.LState, n int) []lua.LValue {
	top := L.GetTop()
	if top < n {
		return nil
	}
	out := make([]lua.LValue, 0, top-n+1)
	for i := n; i <= top; i++ {
		out = append(out, L.Get(i))
	}
	return out
}

// pushAll pushes values and returns their count.
func pushAll(L *lua.LState, values []lua.LValue) int {
	for _, v := range values {
		L.Push(v)
	}
	return len(values)
}
