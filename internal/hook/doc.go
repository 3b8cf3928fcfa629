// Package hook implements function and metamethod hooking.
//
// Hooking a target overwrites its behaviour in place with the behaviour of a
// replacement, so every holder of the target calls the replacement from then
// on. The caller receives a clone of the target's behaviour at hook time and
// uses it to call through or to undo the hook:
//
//	orig, err := engine.Hook(target, replacement)
//	...
//	vm.OverwriteFunction(target, orig) // undo
//	engine.Restore(target)             // release bookkeeping
//
// Restore only releases the references the engine holds. Reversing the
// behaviour is the caller's job.
//
// The engine lock is never held while Lua code runs, so a plain mutex is
// enough even when hooks are installed from inside hooked functions.
package hook
