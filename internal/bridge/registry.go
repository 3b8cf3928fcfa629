package bridge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/fault"
	"github.com/dshills/lumen/internal/vm"
)

// Capability is a named callable exposed to native code.
type Capability struct {
	ID       uuid.UUID
	Name     string
	Function *lua.LFunction

	ref int
}

// Registry maps capability names and IDs to callables.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Capability
	byID   map[uuid.UUID]*Capability

	L    *lua.LState
	refs *vm.RefTable
	exec *vm.Executor
	conv *vm.Bridge
	log  logrus.FieldLogger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRegistry creates a capability registry for L. Invocations run through
// exec, which must own L.
func NewRegistry(L *lua.LState, refs *vm.RefTable, exec *vm.Executor, opts ...Option) *Registry {
	r := &Registry{
		byName: make(map[string]*Capability),
		byID:   make(map[uuid.UUID]*Capability),
		L:      L,
		refs:   refs,
		exec:   exec,
		conv:   vm.NewBridge(L),
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds fn to name and returns the capability ID. Registering an
// existing name replaces the callable and keeps the ID.
func (r *Registry) Register(name string, fn *lua.LFunction) (uuid.UUID, error) {
	const op = "bridge.Register"
	if !validName(name) {
		return uuid.Nil, invalidName(op, name)
	}
	if fn == nil {
		return uuid.Nil, fault.Wrap(fault.KindInvalidArgument, op, ErrNotCallable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byName[name]; ok {
		r.refs.Unref(c.ref)
		c.Function = fn
		c.ref = r.refs.Ref(fn)
		r.log.WithField("capability", name).Debug("capability replaced")
		return c.ID, nil
	}

	c := &Capability{
		ID:       uuid.New(),
		Name:     name,
		Function: fn,
		ref:      r.refs.Ref(fn),
	}
	r.byName[name] = c
	r.byID[c.ID] = c
	r.log.WithFields(logrus.Fields{
		"capability": name,
		"id":         c.ID.String(),
	}).Debug("capability registered")
	return c.ID, nil
}

// Unregister removes name. Returns false if it was not registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byName[name]
	if !ok {
		return false
	}
	r.refs.Unref(c.ref)
	delete(r.byName, name)
	delete(r.byID, c.ID)
	return true
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byName[name]
	if !ok {
		return Capability{}, false
	}
	return *c, true
}

// LookupID returns the capability with the given ID.
func (r *Registry) LookupID(id uuid.UUID) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return Capability{}, false
	}
	return *c, true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Reset removes every capability.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.byName {
		r.refs.Unref(c.ref)
	}
	r.byName = make(map[string]*Capability)
	r.byID = make(map[uuid.UUID]*Capability)
}

// Invoke calls the capability registered under name with Go arguments and
// returns its results as Go values.
func (r *Registry) Invoke(ctx context.Context, name string, args ...interface{}) ([]interface{}, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return nil, notFound("bridge.Invoke", name)
	}
	return r.call(ctx, c, args)
}

// InvokeID calls the capability with the given ID.
func (r *Registry) InvokeID(ctx context.Context, id uuid.UUID, args ...interface{}) ([]interface{}, error) {
	c, ok := r.LookupID(id)
	if !ok {
		return nil, notFound("bridge.InvokeID", id.String())
	}
	return r.call(ctx, c, args)
}

func (r *Registry) call(ctx context.Context, c Capability, args []interface{}) ([]interface{}, error) {
	var out []interface{}
	err := r.exec.Execute(ctx, func(L *lua.LState) error {
		fn, err := r.callable(c)
		if err != nil {
			return err
		}
		out, err = r.conv.CallFunc(fn, args...)
		if err != nil {
			return r.callbackFault(c.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InvokeJSON calls name with the elements of a JSON array payload as
// arguments and returns its results encoded as a JSON array. A non-array
// payload is passed as a single argument; an empty payload passes none.
func (r *Registry) InvokeJSON(ctx context.Context, name, payload string) (string, error) {
	const op = "bridge.InvokeJSON"

	c, ok := r.Lookup(name)
	if !ok {
		return "", notFound(op, name)
	}

	var out string
	err := r.exec.Execute(ctx, func(L *lua.LState) error {
		fn, err := r.callable(c)
		if err != nil {
			return err
		}
		args, err := r.conv.FromJSONArray(payload)
		if err != nil {
			return fault.Wrap(fault.KindInvalidArgument, op, err)
		}
		results, err := vm.Invoke(L, fn, args...)
		if err != nil {
			return err
		}
		out, err = r.conv.ToJSONArray(results)
		return err
	})
	if err != nil {
		if k := fault.KindOf(err); k == fault.KindInvalidArgument || k == fault.KindNotFound {
			return "", err
		}
		return "", r.callbackFault(c.Name, err)
	}
	return out, nil
}

// callable resolves the function held by c's reference. A capability
// unregistered after lookup no longer resolves.
func (r *Registry) callable(c Capability) (*lua.LFunction, error) {
	fn, ok := r.refs.Get(c.ref).(*lua.LFunction)
	if !ok || fn != c.Function {
		return nil, notFound("bridge.Invoke", c.Name)
	}
	return fn, nil
}

func (r *Registry) callbackFault(name string, err error) error {
	r.log.WithError(err).WithField("capability", name).Warn("capability failed")
	return &fault.Error{
		Kind:    fault.KindCallbackFault,
		Op:      "bridge.Invoke",
		Message: "capability " + name + " failed",
		Err:     err,
	}
}

func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, " \t\n")
}
