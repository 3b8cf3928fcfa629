package hook

import (
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/vm"
)

// Record describes an installed hook.
type Record struct {
	// Target is the hooked function.
	Target *lua.LFunction

	// Original is the clone handed to the caller at hook time.
	Original *lua.LFunction

	// Replacement is the behaviour installed into Target.
	Replacement *lua.LFunction

	originalRef    int
	replacementRef int
}

// Engine installs hooks and keeps their references alive.
type Engine struct {
	mu       sync.Mutex
	records  map[*lua.LFunction]*Record
	builtins map[*lua.LFunction]struct{}

	L       *lua.LState
	refs    *vm.RefTable
	freezer *vm.Freezer

	log logrus.FieldLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine creates an engine. refs holds hook references; freezer supplies
// read-only marks for metatables.
func NewEngine(L *lua.LState, refs *vm.RefTable, freezer *vm.Freezer, opts ...Option) *Engine {
	e := &Engine{
		records:  make(map[*lua.LFunction]*Record),
		builtins: make(map[*lua.LFunction]struct{}),
		L:        L,
		refs:     refs,
		freezer:  freezer,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Hook redirects target to the behaviour of replacement and returns a clone
// of target's behaviour at the time of the call.
//
// Re-hooking a target releases the previous record. The returned clone is
// always based on the state at this call, so after a re-hook it reproduces
// the previous replacement, not the first original.
func (e *Engine) Hook(target, replacement lua.LValue) (*lua.LFunction, error) {
	tfn, ok := target.(*lua.LFunction)
	if !ok {
		return nil, typeMismatch("hookfunction", "target must be a function, got %s", typeName(target))
	}
	rfn, ok := replacement.(*lua.LFunction)
	if !ok {
		return nil, typeMismatch("hookfunction", "replacement must be a function, got %s", typeName(replacement))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	original := vm.CloneFunction(tfn)

	rehook := false
	if prev, ok := e.records[tfn]; ok {
		e.release(prev)
		rehook = true
	}

	e.records[tfn] = &Record{
		Target:         tfn,
		Original:       original,
		Replacement:    rfn,
		originalRef:    e.refs.Ref(original),
		replacementRef: e.refs.Ref(rfn),
	}

	vm.OverwriteFunction(tfn, rfn)

	e.log.WithFields(logrus.Fields{
		"source": vm.SourceName(original),
		"rehook": rehook,
	}).Debug("function hooked")

	return original, nil
}

// Restore releases the record of target. It reports whether a record
// existed; restoring an unhooked target is a no-op.
func (e *Engine) Restore(target lua.LValue) bool {
	tfn, ok := target.(*lua.LFunction)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[tfn]
	if !ok {
		return false
	}
	e.release(rec)
	delete(e.records, tfn)
	return true
}

// release drops the references held by rec. Caller holds e.mu.
func (e *Engine) release(rec *Record) {
	e.refs.Unref(rec.originalRef)
	e.refs.Unref(rec.replacementRef)
	rec.originalRef = vm.NoRef
	rec.replacementRef = vm.NoRef
}

// HookMetamethod replaces the metatable entry name of object with
// replacement and returns a clone of the previous handler. Handlers that are
// not functions are returned as they are.
//
// A read-only metatable is made writable for the duration of the write and
// marked read-only again afterwards. No record is kept.
func (e *Engine) HookMetamethod(object lua.LValue, name string, replacement lua.LValue) (lua.LValue, error) {
	if _, ok := replacement.(*lua.LFunction); !ok {
		return nil, typeMismatch("hookmetamethod", "replacement must be a function, got %s", typeName(replacement))
	}

	mt, ok := e.metatable(object)
	if !ok {
		return nil, precondition("hookmetamethod", ErrNoMetatable, "%s has no metatable", typeName(object))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := mt.RawGetString(name)
	if current == lua.LNil {
		return nil, precondition("hookmetamethod", ErrUnknownMethod, "metatable has no %q", name)
	}

	var original lua.LValue = current
	if fn, ok := current.(*lua.LFunction); ok {
		original = vm.CloneFunction(fn)
	}

	readOnly := e.freezer.IsReadOnly(mt)
	if readOnly {
		e.freezer.SetReadOnly(mt, false)
	}
	mt.RawSetString(name, replacement)
	if readOnly {
		e.freezer.SetReadOnly(mt, true)
	}

	e.log.WithFields(logrus.Fields{
		"method":   name,
		"readonly": readOnly,
	}).Debug("metamethod hooked")

	return original, nil
}

// metatable returns the metatable of object as a table.
func (e *Engine) metatable(object lua.LValue) (*lua.LTable, bool) {
	var mt lua.LValue = lua.LNil
	switch v := object.(type) {
	case *lua.LTable:
		mt = v.Metatable
	case *lua.LUserData:
		mt = v.Metatable
	case nil:
	default:
		mt = e.L.GetMetatable(object)
	}
	t, ok := mt.(*lua.LTable)
	return t, ok
}

// IsHooked returns true if fn has a hook record or is a registered builtin.
func (e *Engine) IsHooked(fn lua.LValue) bool {
	f, ok := fn.(*lua.LFunction)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.records[f]; ok {
		return true
	}
	_, ok = e.builtins[f]
	return ok
}

// Lookup returns a copy of the record for target.
func (e *Engine) Lookup(target *lua.LFunction) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[target]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// MarkBuiltin registers fn as one of the runtime's own functions.
func (e *Engine) MarkBuiltin(fn *lua.LFunction) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.builtins[fn] = struct{}{}
	e.mu.Unlock()
}

// IsBuiltin returns true if fn was registered with MarkBuiltin.
func (e *Engine) IsBuiltin(fn *lua.LFunction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.builtins[fn]
	return ok
}

// Len returns the number of hook records.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

// Reset releases every record. Builtin marks are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range e.records {
		e.release(rec)
	}
	e.records = make(map[*lua.LFunction]*Record)
}

func typeName(v lua.LValue) string {
	if v == nil {
		return lua.LTNil.String()
	}
	return v.Type().String()
}
