package hook

import (
	"errors"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/fault"
	"github.com/dshills/lumen/internal/vm"
)

type fixture struct {
	L       *lua.LState
	refs    *vm.RefTable
	freezer *vm.Freezer
	engine  *Engine
}

func newFixture(t *testing.T, code string) *fixture {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	if code != "" {
		if err := L.DoString(code); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	refs := vm.NewRefTable(L)
	freezer := vm.NewFreezer()
	return &fixture{
		L:       L,
		refs:    refs,
		freezer: freezer,
		engine:  NewEngine(L, refs, freezer),
	}
}

func (f *fixture) fn(t *testing.T, name string) *lua.LFunction {
	t.Helper()
	fn, ok := f.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		t.Fatalf("%s is not a function", name)
	}
	return fn
}

func (f *fixture) call(t *testing.T, fn lua.LValue, args ...lua.LValue) lua.LValue {
	t.Helper()
	results, err := vm.Invoke(f.L, fn.(*lua.LFunction), args...)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(results) == 0 {
		return lua.LNil
	}
	return results[0]
}

const twoFuncs = `
	function f() return 1 end
	function g() return 2 end
	holder = { f = f }
`

func TestHookCallRestoreRoundTrip(t *testing.T) {
	fx := newFixture(t, twoFuncs)
	f, g := fx.fn(t, "f"), fx.fn(t, "g")

	orig, err := fx.engine.Hook(f, g)
	if err != nil {
		t.Fatalf("Hook() error = %v", err)
	}
	if orig == f {
		t.Fatal("original must be a distinct function")
	}

	if got := fx.call(t, f); got != lua.LNumber(2) {
		t.Errorf("f() = %v, want 2", got)
	}
	held := fx.L.GetGlobal("holder").(*lua.LTable).RawGetString("f")
	if got := fx.call(t, held); got != lua.LNumber(2) {
		t.Errorf("holder.f() = %v, want 2", got)
	}
	if got := fx.call(t, orig); got != lua.LNumber(1) {
		t.Errorf("orig() = %v, want 1", got)
	}
	if !fx.engine.IsHooked(f) {
		t.Error("IsHooked(f) = false")
	}
	if fx.refs.Len() != 2 {
		t.Errorf("refs = %d, want 2", fx.refs.Len())
	}

	// Reversal is done by the caller with the handle.
	vm.OverwriteFunction(f, orig)
	if !fx.engine.Restore(f) {
		t.Error("Restore() should report an existing record")
	}
	if got := fx.call(t, f); got != lua.LNumber(1) {
		t.Errorf("f() after restore = %v, want 1", got)
	}
	if fx.engine.IsHooked(f) {
		t.Error("IsHooked(f) after Restore = true")
	}
	if fx.refs.Len() != 0 {
		t.Errorf("refs after Restore = %d, want 0", fx.refs.Len())
	}
}

func TestRestoreLeavesBehaviour(t *testing.T) {
	fx := newFixture(t, twoFuncs)
	f, g := fx.fn(t, "f"), fx.fn(t, "g")

	if _, err := fx.engine.Hook(f, g); err != nil {
		t.Fatal(err)
	}
	fx.engine.Restore(f)

	if got := fx.call(t, f); got != lua.LNumber(2) {
		t.Errorf("f() = %v, want 2; Restore must not reverse behaviour", got)
	}
}

func TestRestoreIdempotent(t *testing.T) {
	fx := newFixture(t, twoFuncs)
	f, g := fx.fn(t, "f"), fx.fn(t, "g")

	if fx.engine.Restore(f) {
		t.Error("Restore() of an unhooked target should report false")
	}
	if _, err := fx.engine.Hook(f, g); err != nil {
		t.Fatal(err)
	}
	fx.engine.Restore(f)
	if fx.engine.Restore(f) {
		t.Error("second Restore() should report false")
	}
	if fx.engine.Restore(lua.LNumber(1)) {
		t.Error("Restore() of a non-function should report false")
	}
	if fx.engine.Len() != 0 || fx.refs.Len() != 0 {
		t.Errorf("Len() = %d, refs = %d", fx.engine.Len(), fx.refs.Len())
	}
}

func TestRehookResetsOriginal(t *testing.T) {
	fx := newFixture(t, twoFuncs+`function h() return 3 end`)
	f, g, h := fx.fn(t, "f"), fx.fn(t, "g"), fx.fn(t, "h")

	first, err := fx.engine.Hook(f, g)
	if err != nil {
		t.Fatal(err)
	}
	second, err := fx.engine.Hook(f, h)
	if err != nil {
		t.Fatal(err)
	}

	if got := fx.call(t, f); got != lua.LNumber(3) {
		t.Errorf("f() = %v, want 3", got)
	}
	if got := fx.call(t, second); got != lua.LNumber(2) {
		t.Errorf("second original = %v, want 2 (state at the second hook)", got)
	}
	if got := fx.call(t, first); got != lua.LNumber(1) {
		t.Errorf("first original = %v, want 1", got)
	}

	rec, ok := fx.engine.Lookup(f)
	if !ok || rec.Original != second || rec.Replacement != h {
		t.Error("record should describe the latest hook")
	}
	if fx.engine.Len() != 1 {
		t.Errorf("Len() = %d, want 1", fx.engine.Len())
	}
	if fx.refs.Len() != 2 {
		t.Errorf("refs = %d, want 2; previous refs must be released", fx.refs.Len())
	}
}

func TestHookSameArgsDistinctClones(t *testing.T) {
	fx := newFixture(t, twoFuncs)
	f, g := fx.fn(t, "f"), fx.fn(t, "g")

	a, _ := fx.engine.Hook(f, g)
	b, _ := fx.engine.Hook(f, g)
	if a == b {
		t.Error("each Hook() call should return a new clone")
	}
	if fx.call(t, b) != lua.LNumber(2) {
		t.Error("second clone should reproduce the behaviour at its hook time")
	}
}

func TestHookTypeMismatch(t *testing.T) {
	fx := newFixture(t, twoFuncs)
	f := fx.fn(t, "f")

	tests := []struct {
		name        string
		target      lua.LValue
		replacement lua.LValue
	}{
		{"target number", lua.LNumber(1), f},
		{"replacement table", f, fx.L.NewTable()},
		{"nil target", lua.LNil, f},
		{"missing replacement", f, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.engine.Hook(tt.target, tt.replacement)
			if !errors.Is(err, ErrTypeMismatch) {
				t.Errorf("error = %v, want ErrTypeMismatch", err)
			}
			if fault.KindOf(err) != fault.KindInvalidArgument {
				t.Errorf("kind = %v, want invalid argument", fault.KindOf(err))
			}
		})
	}
	if fx.engine.Len() != 0 {
		t.Error("failed hooks must not leave records")
	}
}

func TestHookGoFunction(t *testing.T) {
	fx := newFixture(t, twoFuncs)
	g := fx.fn(t, "g")

	native := fx.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("native"))
		return 1
	})
	orig, err := fx.engine.Hook(native, g)
	if err != nil {
		t.Fatal(err)
	}
	if fx.call(t, native) != lua.LNumber(2) {
		t.Error("Go function should run the replacement")
	}
	if fx.call(t, orig) != lua.LString("native") {
		t.Error("original should still run the Go function")
	}
}

const metaSetup = `
	mt = { Index = function() return "A" end }
	o = setmetatable({}, mt)
	function h() return "B" end
`

func TestHookMetamethod(t *testing.T) {
	fx := newFixture(t, metaSetup)
	o := fx.L.GetGlobal("o")
	h := fx.fn(t, "h")

	orig, err := fx.engine.HookMetamethod(o, "Index", h)
	if err != nil {
		t.Fatalf("HookMetamethod() error = %v", err)
	}

	mt := fx.L.GetGlobal("mt").(*lua.LTable)
	if got := fx.call(t, mt.RawGetString("Index")); got != lua.LString("B") {
		t.Errorf("live Index() = %v, want B", got)
	}
	if got := fx.call(t, orig); got != lua.LString("A") {
		t.Errorf("orig() = %v, want A", got)
	}
	if fx.engine.Len() != 0 {
		t.Error("metamethod hooks keep no record")
	}
}

func TestHookMetamethodReadOnly(t *testing.T) {
	fx := newFixture(t, metaSetup)
	o := fx.L.GetGlobal("o")
	mt := fx.L.GetGlobal("mt").(*lua.LTable)
	fx.freezer.SetReadOnly(mt, true)

	if _, err := fx.engine.HookMetamethod(o, "Index", fx.fn(t, "h")); err != nil {
		t.Fatalf("HookMetamethod() error = %v", err)
	}
	if !fx.freezer.IsReadOnly(mt) {
		t.Error("read-only mark should be restored")
	}
	if fx.call(t, mt.RawGetString("Index")) != lua.LString("B") {
		t.Error("write should land despite the read-only mark")
	}
}

func TestHookMetamethodErrors(t *testing.T) {
	fx := newFixture(t, metaSetup+`plain = {}`)
	h := fx.fn(t, "h")

	_, err := fx.engine.HookMetamethod(fx.L.GetGlobal("plain"), "Index", h)
	if !errors.Is(err, ErrNoMetatable) || !errors.Is(err, fault.ErrPreconditionFailed) {
		t.Errorf("no metatable: error = %v", err)
	}

	_, err = fx.engine.HookMetamethod(fx.L.GetGlobal("o"), "__missing", h)
	if !errors.Is(err, ErrUnknownMethod) || !errors.Is(err, fault.ErrPreconditionFailed) {
		t.Errorf("unknown method: error = %v", err)
	}

	_, err = fx.engine.HookMetamethod(fx.L.GetGlobal("o"), "Index", lua.LNumber(1))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("bad replacement: error = %v", err)
	}
}

func TestHookMetamethodTableHandler(t *testing.T) {
	fx := newFixture(t, `
		fallback = { x = 1 }
		o = setmetatable({}, { __index = fallback })
		function h() return 2 end
	`)

	orig, err := fx.engine.HookMetamethod(fx.L.GetGlobal("o"), "__index", fx.fn(t, "h"))
	if err != nil {
		t.Fatal(err)
	}
	if orig != fx.L.GetGlobal("fallback") {
		t.Error("non-function handlers should be returned unchanged")
	}
}

func TestBuiltins(t *testing.T) {
	fx := newFixture(t, twoFuncs)
	native := fx.L.NewFunction(func(*lua.LState) int { return 0 })

	if fx.engine.IsHooked(native) {
		t.Error("unmarked function reported as hooked")
	}
	fx.engine.MarkBuiltin(native)
	if !fx.engine.IsHooked(native) || !fx.engine.IsBuiltin(native) {
		t.Error("builtin should be reported")
	}
	if fx.engine.IsHooked(lua.LString("x")) {
		t.Error("non-function reported as hooked")
	}

	fx.engine.Hook(fx.fn(t, "f"), fx.fn(t, "g"))
	fx.engine.Reset()
	if fx.engine.Len() != 0 || fx.refs.Len() != 0 {
		t.Error("Reset() should release every record")
	}
	if !fx.engine.IsBuiltin(native) {
		t.Error("Reset() should keep builtin marks")
	}
}
