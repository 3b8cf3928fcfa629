package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Default limits for the Lua state.
const (
	DefaultExecutionTimeout = 0 // no timeout
	DefaultCallStackSize    = 256
	DefaultRegistryMaxSize  = 1024 * 1024
)

// State wraps gopher-lua with the configuration the runtime needs.
//
// gopher-lua's LState is not goroutine-safe. The mutex protects the Go entry
// points of State; code that runs inside the VM (script modules) receives the
// running *lua.LState directly and must not call back into State methods that
// lock.
type State struct {
	L *lua.LState

	mu sync.Mutex

	executionTimeout time.Duration
	callStackSize    int
	registryMaxSize  int

	log *logrus.Logger

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout bounds DoString, DoFile and Call. Zero disables it.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// WithCallStackSize sets the maximum call depth.
func WithCallStackSize(n int) StateOption {
	return func(s *State) {
		if n > 0 {
			s.callStackSize = n
		}
	}
}

// WithRegistryMaxSize sets the maximum data stack size.
func WithRegistryMaxSize(n int) StateOption {
	return func(s *State) {
		if n > 0 {
			s.registryMaxSize = n
		}
	}
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(log *logrus.Logger) StateOption {
	return func(s *State) {
		if log != nil {
			s.log = log
		}
	}
}

// NewState creates a new Lua state with the safe standard libraries open.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		executionTimeout: DefaultExecutionTimeout,
		callStackSize:    DefaultCallStackSize,
		registryMaxSize:  DefaultRegistryMaxSize,
		log:              logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   state.callStackSize,
		RegistryMaxSize: state.registryMaxSize,
	})

	if err := openSafeLibraries(L); err != nil {
		L.Close()
		return nil, err
	}

	state.L = L
	return state, nil
}

// openSafeLibraries opens the libraries scripts are allowed to use.
// io, os, debug and package are intentionally not opened.
func openSafeLibraries(L *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
	for _, lib := range libs {
		err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name))
		if err != nil {
			return fmt.Errorf("open %s: %w", lib.name, err)
		}
	}

	// File loaders bypass the runtime's chunk binding.
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

// DoString executes a Lua string on the main thread.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	return s.doWithTimeout(func() error {
		return s.L.DoString(code)
	})
}

// DoFile executes a Lua file on the main thread.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	return s.doWithTimeout(func() error {
		return s.L.DoFile(path)
	})
}

// doWithTimeout runs fn with panic recovery and the configured timeout.
func (s *State) doWithTimeout(fn func() error) error {
	return Guard(context.Background(), s.L, s.executionTimeout, func() error {
		return s.doWithRecovery(fn)
	})
}

// Guard runs fn with L bound to ctx, further bounded by timeout when it is
// positive. A run cut short by the deadline fails with ErrExecutionTimeout.
func Guard(ctx context.Context, L *lua.LState, timeout time.Duration, fn func() error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if ctx.Done() == nil {
		return fn()
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	err := fn()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	}
	return err
}

// ExecutionTimeout returns the configured execution timeout.
func (s *State) ExecutionTimeout() time.Duration {
	return s.executionTimeout
}

// doWithRecovery executes a function with panic recovery.
func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("recovered lua panic")
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Call calls a global Lua function with the given arguments.
// Returns an empty slice (not nil) if the function returns no values.
func (s *State) Call(fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal == lua.LNil {
		return nil, fmt.Errorf("function %q not found", fn)
	}
	f, ok := fnVal.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%q is not a function (got %s)", fn, fnVal.Type())
	}

	var results []lua.LValue
	err := s.doWithTimeout(func() error {
		var callErr error
		results, callErr = Invoke(s.L, f, args...)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Load compiles source without running it. The chunk name follows the Lua
// convention: "@file" for files, "=label" for literal labels.
func (s *State) Load(source, chunkName string) (*lua.LFunction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	return Compile(s.L, source, chunkName)
}

// Compile compiles source on L. It is safe to call from inside the VM.
func Compile(L *lua.LState, source, chunkName string) (*lua.LFunction, error) {
	return L.Load(strings.NewReader(source), chunkName)
}

// NewThread creates an execution context sharing L's globals. The returned
// cancel func is never nil.
func NewThread(L *lua.LState) (*lua.LState, context.CancelFunc) {
	co, cancel := L.NewThread()
	if cancel == nil {
		cancel = func() {}
	}
	return co, cancel
}

// RootThread returns the execution context L belongs to: the thread at the
// bottom of its resume chain. A running coroutine shares the context of the
// thread that resumed it.
func RootThread(L *lua.LState) *lua.LState {
	for L.Parent != nil {
		L = L.Parent
	}
	return L
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// RegisterFunc registers a Go function as a global Lua function.
func (s *State) RegisterFunc(name string, fn lua.LGFunction) *lua.LFunction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	f := s.L.NewFunction(fn)
	s.L.SetGlobal(name, f)
	return f
}

// Globals returns the host globals table.
func (s *State) Globals() *lua.LTable {
	return s.L.G.Global
}

// Registry returns the Lua registry table.
func (s *State) Registry() *lua.LTable {
	return s.L.G.Registry
}

// LuaState returns the underlying gopher-lua state.
//
// Direct access bypasses the mutex. The caller is responsible for running it
// on the goroutine that owns the VM, usually through an Executor.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases all resources associated with the Lua state.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.L.Close()
	s.closed = true
	return nil
}
