package vm

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Invoke calls fn on L in protected mode and returns its results.
// Returns an empty slice (not nil) if the function returns no values.
//
// Invoke must run on the goroutine that owns L.
func Invoke(L *lua.LState, fn *lua.LFunction, args ...lua.LValue) (results []lua.LValue, err error) {
	// Record stack top before pushing anything
	stackTop := L.GetTop()

	defer func() {
		if r := recover(); r != nil {
			L.SetTop(stackTop)
			results = nil
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	L.Push(fn)
	for _, arg := range args {
		L.Push(arg)
	}

	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	nRet := L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results = make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = L.Get(stackTop + i + 1)
	}
	L.Pop(nRet)

	return results, nil
}
