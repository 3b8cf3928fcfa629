// Package vm owns the gopher-lua virtual machine that hosts scripts.
//
// This package provides:
//   - State, a guarded owner of one *lua.LState
//   - Executor, which serializes VM work onto a single goroutine
//   - Bridge, Go/Lua value and JSON conversion
//   - callable primitives (CloneFunction, OverwriteFunction)
//   - RefTable, durable references held in the Lua registry
//   - Freezer, read-only marks for tables
//
// # State
//
//	state, err := vm.NewState(
//	    vm.WithExecutionTimeout(5 * time.Second),
//	    vm.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
// # Executor
//
// gopher-lua is not goroutine-safe. Work triggered from Go code (native bridge
// calls, host signal emits, autoexec) is marshalled through the Executor:
//
//	exec := vm.NewExecutor(state.LuaState(), 64)
//	go exec.Run(ctx)
//	err := exec.Execute(ctx, func(L *lua.LState) error {
//	    return L.DoString(`print("hi")`)
//	})
//
// # Threads
//
// Each script run gets its own execution context from NewThread. Guard binds
// a context and an optional timeout to one run:
//
//	co, cancel := vm.NewThread(L)
//	defer cancel()
//	err := vm.Guard(ctx, co, 2*time.Second, func() error {
//	    co.Push(fn)
//	    return co.PCall(0, 0, nil)
//	})
//
// # Callables
//
// A clone is a new *lua.LFunction that shares the prototype, the Go function,
// the environment and the upvalue cells of its source. OverwriteFunction
// replaces the behaviour of a function in place, so every holder of the
// pointer observes the new behaviour.
package vm
