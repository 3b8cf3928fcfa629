// Package runtime wires the script services around one Lua VM and manages
// its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/api"
	"github.com/dshills/lumen/internal/autoexec"
	"github.com/dshills/lumen/internal/bridge"
	"github.com/dshills/lumen/internal/config"
	"github.com/dshills/lumen/internal/console"
	"github.com/dshills/lumen/internal/env"
	"github.com/dshills/lumen/internal/gc"
	"github.com/dshills/lumen/internal/hook"
	"github.com/dshills/lumen/internal/identity"
	"github.com/dshills/lumen/internal/signal"
	"github.com/dshills/lumen/internal/vm"
)

// TeleportPrefix names the chunks of queued teleport sources.
const TeleportPrefix = "lumen/teleport/"

// Runtime owns the VM and every service scripts talk to.
type Runtime struct {
	cfg config.Config
	log *logrus.Logger
	out io.Writer

	state      *vm.State
	exec       *vm.Executor
	refs       *vm.RefTable
	freezer    *vm.Freezer
	identities *identity.Registry
	envs       *env.Manager
	hooks      *hook.Engine
	gc         *gc.Introspector
	signals    *signal.Hub
	console    *console.Console
	bridge     *bridge.Registry
	namespace  *bridge.Namespace
	visibility *bridge.Visibility
	teleport   *api.TeleportQueue
	api        *api.Context
	modules    *api.Registry

	mu       sync.Mutex
	scripts  map[string]*scriptEntry
	watcher  *autoexec.Watcher
	started  atomic.Bool
	closed   atomic.Bool
	loopDone chan struct{}
	cancel   context.CancelFunc
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. The console log hook is added to it.
func WithLogger(log *logrus.Logger) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

// WithOutput sets where console messages are echoed.
func WithOutput(w io.Writer) Option {
	return func(r *Runtime) {
		r.out = w
	}
}

// New builds a runtime from cfg. The components are created in dependency
// order; the executor loop is not running until Start.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	r := &Runtime{
		cfg:     cfg,
		log:     logrus.New(),
		scripts: make(map[string]*scriptEntry),
	}
	for _, opt := range opts {
		opt(r)
	}

	// 1. Console, so log output from the rest of the build lands in it.
	consoleOpts := []console.Option{console.WithCapacity(cfg.Console.Capacity)}
	if r.out != nil {
		consoleOpts = append(consoleOpts, console.WithOutput(r.out))
	}
	r.console = console.New(consoleOpts...)
	r.log.AddHook(r.console.LogHook())

	// 2. VM and executor
	state, err := vm.NewState(
		vm.WithCallStackSize(cfg.VM.CallStackSize),
		vm.WithRegistryMaxSize(cfg.VM.RegistryMaxSize),
		vm.WithExecutionTimeout(cfg.VM.ExecutionTimeout.Duration),
		vm.WithLogger(r.log),
	)
	if err != nil {
		return nil, &InitError{Component: "vm", Err: err}
	}
	r.state = state
	L := state.LuaState()

	r.exec = vm.NewExecutor(L, cfg.VM.QueueSize)
	r.exec.SetLogger(r.log)
	r.refs = vm.NewRefTable(L)
	r.freezer = vm.NewFreezer()
	r.freezer.Install(L)

	// 3. Services
	r.identities = identity.NewRegistry()
	if err := r.identities.SetDefault(cfg.Identity.Default); err != nil {
		state.Close()
		return nil, &InitError{Component: "identity", Err: err}
	}
	r.envs = env.NewManager(L, env.WithLogger(r.component("env")))
	r.hooks = hook.NewEngine(L, r.refs, r.freezer, hook.WithLogger(r.component("hook")))
	r.gc = gc.New(L, r.envs, gc.WithLogger(r.component("gc")))
	r.signals = signal.NewHub(r.refs, signal.WithLogger(r.component("signal")))
	r.teleport = api.NewTeleportQueue()

	// 4. Native bridge
	r.bridge = bridge.NewRegistry(L, r.refs, r.exec, bridge.WithLogger(r.component("bridge")))
	r.namespace = bridge.NewNamespace(r.bridge)
	r.visibility = bridge.NewVisibility(false, r.signals)
	if err := bridge.RegisterDefaults(r.bridge, r.visibility); err != nil {
		state.Close()
		return nil, &InitError{Component: "bridge", Err: err}
	}

	// 5. Script surface
	r.api = &api.Context{
		Executor:   api.ExecutorInfo{Name: cfg.Executor.Name, Version: cfg.Executor.Version},
		Identities: r.identities,
		Envs:       r.envs,
		Hooks:      r.hooks,
		GC:         r.gc,
		Signals:    r.signals,
		Console:    r.console,
		Freezer:    r.freezer,
		Bridge:     r.bridge,
		Teleport:   r.teleport,
		Log:        r.component("api"),
	}
	r.modules, err = api.DefaultRegistry(r.api)
	if err != nil {
		state.Close()
		return nil, &InitError{Component: "api", Err: err}
	}
	if err := r.modules.InjectAll(L); err != nil {
		state.Close()
		return nil, &InitError{Component: "api", Err: err}
	}

	r.log.WithFields(logrus.Fields{
		"executor": cfg.Executor.Name,
		"version":  cfg.Executor.Version,
		"identity": cfg.Identity.Default,
		"modules":  len(r.modules.List()),
	}).Debug("runtime initialized")
	return r, nil
}

func (r *Runtime) component(name string) logrus.FieldLogger {
	return r.log.WithField("component", name)
}

// Start runs the executor loop in its own goroutine. The loop stops when
// ctx is cancelled or Close is called.
func (r *Runtime) Start(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.loopDone = make(chan struct{})
	done := r.loopDone
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.exec.Run(ctx)
	}()
	return nil
}

// Execute runs fn on the goroutine that owns the VM.
func (r *Runtime) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.started.Load() {
		return ErrNotStarted
	}
	return r.exec.Execute(ctx, fn)
}

// Run executes source as a script named name. The chunk is bound to the
// script's own environment, where `script` is the script handle, and runs on
// a fresh execution context whose identity entry is released afterwards.
// Runs of the same name share the handle and the environment; signal
// connections made during the run are owned by the handle until Unload.
func (r *Runtime) Run(ctx context.Context, name, source string) error {
	err := r.Execute(ctx, func(L *lua.LState) error {
		return r.run(ctx, L, name, source)
	})
	if err != nil {
		return &RunError{Script: name, Err: err}
	}
	return nil
}

func (r *Runtime) run(ctx context.Context, L *lua.LState, name, source string) error {
	fn, err := vm.Compile(L, source, "@"+name)
	if err != nil {
		return err
	}

	entry := r.loadScript(L, name)
	senv := r.envs.ScriptEnv(entry.handle)
	senv.RawSetString("script", entry.handle)
	fn.Env = senv

	co, cancel := vm.NewThread(L)
	defer cancel()
	defer func() {
		r.identities.Forget(co)
		r.signals.Reown(co, entry.handle)
	}()

	r.log.WithField("script", name).Debug("script started")
	return vm.Guard(ctx, co, r.state.ExecutionTimeout(), func() error {
		co.Push(fn)
		return co.PCall(0, 0, nil)
	})
}

// loadScript returns the entry for name, creating its handle on first use.
func (r *Runtime) loadScript(L *lua.LState, name string) *scriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.scripts[name]; ok {
		return e
	}
	s := &Script{ID: uuid.New(), Name: name}
	e := &scriptEntry{script: s, handle: newScriptValue(L, s)}
	r.scripts[name] = e
	return e
}

// Script returns the handle of a loaded script.
func (r *Runtime) Script(name string) (*Script, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.scripts[name]
	if !ok {
		return nil, false
	}
	return e.script, true
}

// Unload drops the script named name: its connections are disconnected and
// its environment is forgotten. The next run of that name starts from a new
// handle. Reports whether the script was loaded.
func (r *Runtime) Unload(ctx context.Context, name string) (bool, error) {
	var found bool
	err := r.Execute(ctx, func(L *lua.LState) error {
		r.mu.Lock()
		e, ok := r.scripts[name]
		delete(r.scripts, name)
		r.mu.Unlock()
		if !ok {
			return nil
		}

		found = true
		n := r.signals.DisconnectOwner(e.handle)
		r.envs.Forget(e.handle)
		r.log.WithFields(logrus.Fields{
			"script":      name,
			"connections": n,
		}).Debug("script unloaded")
		return nil
	})
	return found, err
}

// RunFile reads path and runs it under its base name.
func (r *Runtime) RunFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return r.Run(ctx, filepath.Base(path), string(src))
}

// DrainTeleportQueue runs and removes every queued teleport source in order.
// A failing source does not stop the rest. Returns the number that ran
// without error and the joined failures.
func (r *Runtime) DrainTeleportQueue(ctx context.Context) (int, error) {
	sources := r.teleport.Drain()

	ok := 0
	var errs []error
	for i, src := range sources {
		if err := r.Run(ctx, fmt.Sprintf("%s%d", TeleportPrefix, i+1), src); err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

// StartAutoexec runs the scripts already in the autoexec directory, then
// watches it for new or changed scripts until ctx ends or Close is called.
// A script removed from the directory is unloaded.
func (r *Runtime) StartAutoexec(ctx context.Context) (int, error) {
	r.mu.Lock()
	if r.watcher != nil {
		r.mu.Unlock()
		return 0, ErrAlreadyStarted
	}
	w := autoexec.New(r.cfg.Paths.Autoexec, r.RunFile,
		autoexec.WithLogger(r.component("autoexec")),
		autoexec.WithRemove(r.unloadFile),
	)
	r.watcher = w
	r.mu.Unlock()

	n, err := w.RunExisting(ctx)
	if err != nil {
		return n, err
	}
	return n, w.Start(ctx)
}

func (r *Runtime) unloadFile(ctx context.Context, path string) {
	if _, err := r.Unload(ctx, filepath.Base(path)); err != nil {
		r.log.WithError(err).WithField("file", path).Warn("unload failed")
	}
}

// Emit fires every enabled connection of signal with args converted to Lua
// values. Returns the number of callbacks that completed.
func (r *Runtime) Emit(ctx context.Context, signal string, args ...interface{}) (int, error) {
	var n int
	err := r.Execute(ctx, func(L *lua.LState) error {
		conv := vm.NewBridge(L)
		values := make([]lua.LValue, len(args))
		for i, a := range args {
			values[i] = conv.ToLuaValue(a)
		}
		n = r.signals.Emit(L, signal, values...)
		return nil
	})
	return n, err
}

// Handle routes a "capability.<name>" action to the native bridge.
func (r *Runtime) Handle(ctx context.Context, action string, args ...interface{}) bridge.Result {
	return r.namespace.Handle(ctx, action, args...)
}

// Config returns the configuration the runtime was built with.
func (r *Runtime) Config() config.Config { return r.cfg }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *logrus.Logger { return r.log }

// State returns the VM.
func (r *Runtime) State() *vm.State { return r.state }

// Identities returns the identity registry.
func (r *Runtime) Identities() *identity.Registry { return r.identities }

// Envs returns the environment manager.
func (r *Runtime) Envs() *env.Manager { return r.envs }

// Hooks returns the closure hook engine.
func (r *Runtime) Hooks() *hook.Engine { return r.hooks }

// GC returns the object introspector.
func (r *Runtime) GC() *gc.Introspector { return r.gc }

// Signals returns the signal hub.
func (r *Runtime) Signals() *signal.Hub { return r.signals }

// Console returns the console queue.
func (r *Runtime) Console() *console.Console { return r.console }

// Bridge returns the native capability registry.
func (r *Runtime) Bridge() *bridge.Registry { return r.bridge }

// Visible reports the host UI visibility flag.
func (r *Runtime) Visible() bool { return r.visibility.Visible() }

// Teleport returns the teleport queue.
func (r *Runtime) Teleport() *api.TeleportQueue { return r.teleport }

// Modules returns the names of the installed script modules.
func (r *Runtime) Modules() []string { return r.modules.List() }

// Reset clears every registry: identities, script handles, environments,
// hooks, connections, capabilities (defaults are re-registered), the teleport
// queue, the console and read-only marks. Tracked builtins stay tracked.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	clear(r.scripts)
	r.mu.Unlock()

	r.identities.Reset()
	if err := r.identities.SetDefault(r.cfg.Identity.Default); err != nil {
		return err
	}
	r.envs.Reset()
	r.hooks.Reset()
	r.signals.Reset()
	r.bridge.Reset()
	r.teleport.Drain()
	r.console.Clear()
	r.freezer.Reset()
	return bridge.RegisterDefaults(r.bridge, r.visibility)
}

// Close stops the watcher and the executor loop and closes the VM.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	w := r.watcher
	cancel := r.cancel
	done := r.loopDone
	r.mu.Unlock()

	var errs []error
	if w != nil {
		if err := w.Close(); err != nil && !errors.Is(err, autoexec.ErrWatcherClosed) {
			errs = append(errs, err)
		}
	}

	r.exec.Close()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if err := r.state.Close(); err != nil {
		errs = append(errs, err)
	}
	r.log.Debug("runtime closed")
	return errors.Join(errs...)
}
