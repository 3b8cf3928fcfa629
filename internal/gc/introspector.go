// Package gc enumerates and filters the objects reachable by scripts.
//
// A snapshot walks outward from a fixed set of roots: objects tracked by the
// runtime, the Lua registry, the host globals and every environment table.
// Tables, function environments, upvalues and metatables are followed. Each
// object appears once, named after the first string key it was found under.
package gc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/env"
	"github.com/dshills/lumen/internal/fault"
)

// ErrInvalidKind is returned by Filter for kinds other than "function" and
// "table".
var ErrInvalidKind = errors.New("invalid object kind")

// Object kinds accepted by Filter.
const (
	KindFunction = "function"
	KindTable    = "table"
)

// Object is one entry of a snapshot.
type Object struct {
	// Name is the string key the object was first found under, or "".
	Name string

	// Value is the object itself.
	Value lua.LValue

	// Tracked is true for objects registered with Track.
	Tracked bool
}

type tracked struct {
	name  string
	value lua.LValue
}

// Introspector takes snapshots of the live object graph.
//
// Snapshots read Lua tables directly and must be taken on the goroutine that
// owns the VM.
type Introspector struct {
	mu      sync.Mutex
	tracked []tracked
	index   map[lua.LValue]int

	L    *lua.LState
	envs *env.Manager

	log logrus.FieldLogger
}

// Option configures an Introspector.
type Option func(*Introspector)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(in *Introspector) {
		if log != nil {
			in.log = log
		}
	}
}

// New creates an introspector over L. envs may be nil.
func New(L *lua.LState, envs *env.Manager, opts ...Option) *Introspector {
	in := &Introspector{
		index: make(map[lua.LValue]int),
		L:     L,
		envs:  envs,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Track registers v under name as a runtime-owned object. Tracking the same
// object again renames it.
func (in *Introspector) Track(name string, v lua.LValue) {
	if !isObject(v) {
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if i, ok := in.index[v]; ok {
		in.tracked[i].name = name
		return
	}
	in.index[v] = len(in.tracked)
	in.tracked = append(in.tracked, tracked{name: name, value: v})
}

// Reset forgets every tracked object.
func (in *Introspector) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.tracked = nil
	in.index = make(map[lua.LValue]int)
}

// Enumerate returns a snapshot of functions, userdata and threads, and
// tables when includeTables is set.
func (in *Introspector) Enumerate(includeTables bool) []Object {
	var out []Object
	in.walk(func(obj Object) {
		if _, isTable := obj.Value.(*lua.LTable); isTable && !includeTables {
			return
		}
		out = append(out, obj)
	})
	return out
}

// Filter returns the snapshot objects of kind that match every set field of
// c. An unknown kind is an InvalidArgument error; a criteria mismatch is not.
func (in *Introspector) Filter(kind string, c Criteria) ([]Object, error) {
	var match func(Object) bool
	switch kind {
	case KindFunction:
		match = func(obj Object) bool {
			fn, ok := obj.Value.(*lua.LFunction)
			return ok && c.matchFunction(obj, fn)
		}
	case KindTable:
		match = func(obj Object) bool {
			t, ok := obj.Value.(*lua.LTable)
			return ok && c.matchTable(t)
		}
	default:
		return nil, &fault.Error{
			Kind:    fault.KindInvalidArgument,
			Op:      "filtergc",
			Message: fmt.Sprintf("expected 'function' or 'table', got %q", kind),
			Err:     ErrInvalidKind,
		}
	}

	var out []Object
	in.walk(func(obj Object) {
		if match(obj) {
			out = append(out, obj)
		}
	})
	in.log.WithFields(logrus.Fields{
		"kind":    kind,
		"matches": len(out),
	}).Debug("filtered object snapshot")
	return out, nil
}

// walk visits every reachable object once.
func (in *Introspector) walk(visit func(Object)) {
	w := &walker{
		seen:  make(map[lua.LValue]int),
		visit: visit,
	}

	in.mu.Lock()
	roots := make([]tracked, len(in.tracked))
	copy(roots, in.tracked)
	in.mu.Unlock()

	for _, r := range roots {
		w.push(r.name, r.value, true)
	}
	if in.envs != nil {
		var envs []*lua.LTable
		in.envs.Each(func(_ env.Scope, _ lua.LValue, t *lua.LTable) {
			envs = append(envs, t)
		})
		for _, t := range envs {
			w.push("", t, false)
		}
	}
	w.push("", in.L.G.Global, false)
	w.push("", in.L.G.Registry, false)
	w.run()
}

type pending struct {
	name    string
	value   lua.LValue
	tracked bool
}

type walker struct {
	seen  map[lua.LValue]int
	queue []pending
	done  int // entries visited so far
	visit func(Object)
}

func (w *walker) push(name string, v lua.LValue, tracked bool) {
	if !isObject(v) {
		return
	}
	if i, ok := w.seen[v]; ok {
		// Name an unnamed entry that has not been visited yet.
		if name != "" && i >= w.done && w.queue[i].name == "" {
			w.queue[i].name = name
		}
		return
	}
	w.seen[v] = len(w.queue)
	w.queue = append(w.queue, pending{name: name, value: v, tracked: tracked})
}

func (w *walker) run() {
	// Visit in discovery order so names come from the closest root.
	for w.done < len(w.queue) {
		p := w.queue[w.done]
		w.done++
		w.visit(Object{Name: p.name, Value: p.value, Tracked: p.tracked})

		switch v := p.value.(type) {
		case *lua.LTable:
			v.ForEach(func(k, val lua.LValue) {
				w.push("", k, false)
				w.push(keyName(k), val, false)
			})
			w.push("", v.Metatable, false)
		case *lua.LFunction:
			if v.Env != nil {
				w.push("", v.Env, false)
			}
			for _, uv := range v.Upvalues {
				if uv != nil {
					w.push("", uv.Value(), false)
				}
			}
		case *lua.LUserData:
			if v.Env != nil {
				w.push("", v.Env, false)
			}
			w.push("", v.Metatable, false)
		}
	}
}

// isObject reports whether v is a collectable reference value.
func isObject(v lua.LValue) bool {
	switch v.(type) {
	case *lua.LTable, *lua.LFunction, *lua.LUserData, *lua.LState:
		return true
	default:
		return false
	}
}

func keyName(k lua.LValue) string {
	if s, ok := k.(lua.LString); ok {
		return string(s)
	}
	return ""
}
