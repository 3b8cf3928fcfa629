package runtime

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/config"
	"github.com/dshills/lumen/internal/vm"
)

func newTestRuntime(t *testing.T, mutate ...func(*config.Config)) *Runtime {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.Autoexec = filepath.Join(t.TempDir(), "autoexec")
	for _, m := range mutate {
		m(&cfg)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	r, err := New(cfg, WithLogger(log), WithOutput(io.Discard))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func mustRun(t *testing.T, r *Runtime, name, src string) {
	t.Helper()
	if err := r.Run(context.Background(), name, src); err != nil {
		t.Fatalf("Run(%s) error = %v", name, err)
	}
}

// globalEnv reads key from the shared global environment on the VM goroutine.
func globalEnv(t *testing.T, r *Runtime, key string) lua.LValue {
	t.Helper()
	var v lua.LValue
	err := r.Execute(context.Background(), func(L *lua.LState) error {
		v = r.Envs().GlobalEnv().RawGetString(key)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestNewInstallsModules(t *testing.T) {
	r := newTestRuntime(t)

	if got := len(r.Modules()); got != 9 {
		t.Errorf("Modules() = %v, want 9 modules", r.Modules())
	}
	if got := r.Identities().Default(); got != 2 {
		t.Errorf("default identity = %d, want 2", got)
	}
	if names := r.Bridge().Names(); len(names) != 1 || names[0] != "toggle_visibility" {
		t.Errorf("Bridge().Names() = %v", names)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.Default = 42

	_, err := New(cfg)
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("New() error = %v, want InitError", err)
	}
	if initErr.Component != "config" {
		t.Errorf("Component = %q, want config", initErr.Component)
	}
}

func TestLifecycleErrors(t *testing.T) {
	cfg := config.Default()
	log := logrus.New()
	log.SetOutput(io.Discard)

	r, err := New(cfg, WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Run(context.Background(), "a.lua", "x = 1"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Run() before Start error = %v, want ErrNotStarted", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := r.Run(context.Background(), "a.lua", "x = 1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after Close error = %v, want ErrClosed", err)
	}
	if !r.State().IsClosed() {
		t.Error("state should be closed")
	}
}

func TestRunUsesScriptEnvironment(t *testing.T) {
	r := newTestRuntime(t)

	mustRun(t, r, "a.lua", `
		local_to_script = true
		assert(script.Name == "a.lua")
		assert(tostring(script) == "Script(a.lua)")
		assert(getsenv(script).local_to_script == true)
		assert(type(getgenv) == "function")
	`)

	if v := globalEnv(t, r, "local_to_script"); v != lua.LNil {
		t.Errorf("script global leaked into the global env: %v", v)
	}

	// Each script name gets its own handle and environment.
	mustRun(t, r, "b.lua", `assert(local_to_script == nil)`)
}

func TestRunScriptHandleIsLocked(t *testing.T) {
	r := newTestRuntime(t)

	mustRun(t, r, "a.lua", `
		assert(getmetatable(script) == "The metatable is locked")
		assert(type(script.ID) == "string" and #script.ID == 36)
		assert(script.Missing == nil)
	`)
}

func TestRunIdentityIsPerRun(t *testing.T) {
	r := newTestRuntime(t)

	mustRun(t, r, "a.lua", `
		assert(getidentity() == 2)
		setidentity(7)
		assert(getidentity() == 7)
	`)
	mustRun(t, r, "b.lua", `assert(getidentity() == 2)`)

	if n := r.Identities().Len(); n != 0 {
		t.Errorf("identity entries after runs = %d, want 0", n)
	}
}

func TestRunLowIdentityCannotHook(t *testing.T) {
	r := newTestRuntime(t, func(c *config.Config) { c.Identity.Default = 1 })

	err := r.Run(context.Background(), "a.lua", `hookfunction(print, function() end)`)
	if err == nil {
		t.Fatal("expected insufficient identity error")
	}
	if !strings.Contains(err.Error(), "insufficient identity: requires 2, have 1") {
		t.Errorf("error = %v", err)
	}
}

func TestRunCoroutinesShareIdentity(t *testing.T) {
	r := newTestRuntime(t)

	mustRun(t, r, "a.lua", `
		setidentity(0)
		assert(coroutine.wrap(function() return getidentity() end)() == 0)
		assert(coroutine.wrap(function() return checkcaller() end)() == false)

		local ok, err = coroutine.wrap(function()
			return pcall(hookfunction, print, function() end)
		end)()
		assert(not ok, "hookfunction inside a coroutine should fail")
		assert(string.find(tostring(err), "insufficient identity", 1, true))

		coroutine.wrap(function() setidentity(5) end)()
		assert(getidentity() == 5)

		local co = coroutine.create(function()
			coroutine.yield(getidentity())
			setidentity(6)
		end)
		local _, seen = coroutine.resume(co)
		assert(seen == 5)
		coroutine.resume(co)
		assert(getidentity() == 6)
	`)

	if n := r.Identities().Len(); n != 0 {
		t.Errorf("identity entries after run = %d, want 0", n)
	}
}

func TestRunSameNameReusesEnvironment(t *testing.T) {
	r := newTestRuntime(t)

	const runs = 50
	mustRun(t, r, "x.lua", `runs = 1`)
	base := r.Envs().Len()
	for i := 1; i < runs; i++ {
		mustRun(t, r, "x.lua", `runs = runs + 1`)
	}
	if n := r.Envs().Len(); n != base {
		t.Errorf("Envs().Len() after %d runs = %d, want %d", runs, n, base)
	}
	mustRun(t, r, "y.lua", `assert(runs == nil)`)
	if n := r.Envs().Len(); n != base+1 {
		t.Errorf("Envs().Len() with a second script = %d, want %d", n, base+1)
	}
	s, ok := r.Script("x.lua")
	if !ok {
		t.Fatal("Script(x.lua) not found")
	}
	mustRun(t, r, "x.lua", `assert(runs == 50 and script.ID == "`+s.ID.String()+`")`)
}

func TestUnload(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	mustRun(t, r, "a.lua", `
		marker = true
		connect("ping", function() getgenv().pinged = (getgenv().pinged or 0) + 1 end)
		coroutine.wrap(function()
			connect("ping", function() getgenv().pinged = (getgenv().pinged or 0) + 1 end)
		end)()
	`)
	mustRun(t, r, "b.lua", `connect("ping", function() getgenv().other = true end)`)

	if n, err := r.Emit(ctx, "ping"); err != nil || n != 3 {
		t.Fatalf("Emit() = %d, %v; want 3", n, err)
	}
	before, _ := r.Script("a.lua")
	envs := r.Envs().Len()

	found, err := r.Unload(ctx, "a.lua")
	if err != nil || !found {
		t.Fatalf("Unload(a.lua) = %v, %v", found, err)
	}
	if found, _ := r.Unload(ctx, "a.lua"); found {
		t.Error("second Unload(a.lua) = true")
	}
	if _, ok := r.Script("a.lua"); ok {
		t.Error("Script(a.lua) should be gone")
	}
	if n := r.Envs().Len(); n != envs-1 {
		t.Errorf("Envs().Len() = %d, want %d", n, envs-1)
	}

	if n, err := r.Emit(ctx, "ping"); err != nil || n != 1 {
		t.Errorf("Emit() after Unload = %d, %v; want 1", n, err)
	}
	if v := globalEnv(t, r, "pinged"); v != lua.LNumber(2) {
		t.Errorf("pinged = %v, want 2", v)
	}

	mustRun(t, r, "a.lua", `assert(marker == nil)`)
	after, _ := r.Script("a.lua")
	if after == nil || after.ID == before.ID {
		t.Error("a rerun after Unload should get a new handle")
	}
}

func TestRunErrors(t *testing.T) {
	r := newTestRuntime(t)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"runtime error", `error("boom")`, "boom"},
		{"compile error", `local = `, "a.lua"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Run(context.Background(), "a.lua", tt.src)
			var runErr *RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("Run() error = %v, want RunError", err)
			}
			if runErr.Script != "a.lua" {
				t.Errorf("Script = %q", runErr.Script)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestRunTimeout(t *testing.T) {
	r := newTestRuntime(t, func(c *config.Config) {
		c.VM.ExecutionTimeout = config.Duration{Duration: 50 * time.Millisecond}
	})

	err := r.Run(context.Background(), "loop.lua", `while true do end`)
	if !errors.Is(err, vm.ErrExecutionTimeout) {
		t.Fatalf("Run() error = %v, want ErrExecutionTimeout", err)
	}

	// The VM stays usable.
	mustRun(t, r, "after.lua", `getgenv().after = true`)
	if v := globalEnv(t, r, "after"); v != lua.LTrue {
		t.Errorf("after = %v, want true", v)
	}
}

func TestRunFile(t *testing.T) {
	r := newTestRuntime(t)

	path := filepath.Join(t.TempDir(), "file.lua")
	if err := os.WriteFile(path, []byte(`getgenv().from_file = script.Name`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.RunFile(context.Background(), path); err != nil {
		t.Fatalf("RunFile() error = %v", err)
	}
	if v := globalEnv(t, r, "from_file"); v != lua.LString("file.lua") {
		t.Errorf("from_file = %v", v)
	}

	if err := r.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("RunFile() on a missing file should fail")
	}
}

func TestDrainTeleportQueue(t *testing.T) {
	r := newTestRuntime(t)

	mustRun(t, r, "a.lua", `
		queue_on_teleport("getgenv().teleported = (getgenv().teleported or 0) + 1")
		queueonteleport("error('bad source')")
		queue_on_teleport("getgenv().teleported = getgenv().teleported + 1")
	`)
	if n := r.Teleport().Len(); n != 3 {
		t.Fatalf("queue length = %d, want 3", n)
	}

	ok, err := r.DrainTeleportQueue(context.Background())
	if ok != 2 {
		t.Errorf("DrainTeleportQueue() ran %d, want 2", ok)
	}
	if err == nil || !strings.Contains(err.Error(), "bad source") {
		t.Errorf("DrainTeleportQueue() error = %v", err)
	}
	if v := globalEnv(t, r, "teleported"); v != lua.LNumber(2) {
		t.Errorf("teleported = %v, want 2", v)
	}
	if n := r.Teleport().Len(); n != 0 {
		t.Errorf("queue length after drain = %d", n)
	}
}

func TestTeleportChunksAreExecutorSources(t *testing.T) {
	r := newTestRuntime(t)

	r.Teleport().Push(`getgenv().tp_fn = function() end`)
	if _, err := r.DrainTeleportQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	fn, ok := globalEnv(t, r, "tp_fn").(*lua.LFunction)
	if !ok {
		t.Fatal("tp_fn not defined")
	}
	if got := vm.SourceName(fn); !strings.HasPrefix(got, "@"+TeleportPrefix) {
		t.Errorf("SourceName() = %q", got)
	}
}

func TestEmit(t *testing.T) {
	r := newTestRuntime(t)

	mustRun(t, r, "a.lua", `
		connect("ping", function(v, n) getgenv().got = v .. n end)
		connect("ping", function() error("listener failed") end)
	`)

	n, err := r.Emit(context.Background(), "ping", "hello", 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Emit() = %d, want 1", n)
	}
	if v := globalEnv(t, r, "got"); v != lua.LString("hello3") {
		t.Errorf("got = %v", v)
	}

	errs := r.Console().Errors()
	if len(errs) != 1 {
		t.Fatalf("console errors = %v, want 1", errs)
	}
	if errs[0].Source != "signal" || !strings.Contains(errs[0].Text, "listener failed") {
		t.Errorf("console error = %+v", errs[0])
	}
}

func TestBridgeCapabilities(t *testing.T) {
	r := newTestRuntime(t)

	mustRun(t, r, "a.lua", `bridge.register("add", function(a, b) return a + b end)`)

	got, err := r.Bridge().Invoke(context.Background(), "add", 2, 5)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(got) != 1 || got[0] != int64(7) {
		t.Errorf("Invoke() = %v, want [7]", got)
	}

	if r.Visible() {
		t.Fatal("visible should start false")
	}
	res := r.Handle(context.Background(), "capability.toggle_visibility")
	if res.Err != nil {
		t.Fatalf("Handle() error = %v", res.Err)
	}
	if !r.Visible() {
		t.Error("visible should be true after toggle")
	}
}

func TestPrintGoesToConsole(t *testing.T) {
	r := newTestRuntime(t)

	mustRun(t, r, "a.lua", `print("hi", 1)`)

	msgs := r.Console().Messages()
	if len(msgs) != 1 {
		t.Fatalf("console = %v", msgs)
	}
	if msgs[0].Text != "hi\t1" {
		t.Errorf("Text = %q", msgs[0].Text)
	}
	if !strings.HasPrefix(msgs[0].Source, "a.lua") {
		t.Errorf("Source = %q", msgs[0].Source)
	}
}

func TestReset(t *testing.T) {
	r := newTestRuntime(t, func(c *config.Config) { c.Identity.Default = 5 })

	mustRun(t, r, "a.lua", `
		connect("ping", function() end)
		bridge.register("extra", function() end)
		queue_on_teleport("x = 1")
		print("noise")
	`)

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if n := r.Signals().Len(); n != 0 {
		t.Errorf("connections = %d", n)
	}
	if _, ok := r.Script("a.lua"); ok {
		t.Error("script handles should be cleared")
	}
	if names := r.Bridge().Names(); len(names) != 1 || names[0] != "toggle_visibility" {
		t.Errorf("capabilities = %v", names)
	}
	if n := r.Teleport().Len(); n != 0 {
		t.Errorf("teleport queue = %d", n)
	}
	if n := r.Console().Len(); n != 0 {
		t.Errorf("console = %d", n)
	}
	if got := r.Identities().Default(); got != 5 {
		t.Errorf("default identity = %d, want 5", got)
	}
	mustRun(t, r, "b.lua", `assert(getidentity() == 5)`)
}

func TestStartAutoexec(t *testing.T) {
	r := newTestRuntime(t)

	dir := r.Config().Paths.Autoexec
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, src := range map[string]string{
		"01_first.lua":  `getgenv().order = "first"`,
		"02_second.lua": `getgenv().order = getgenv().order .. ",second"`,
		"notes.txt":     `not lua`,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := r.StartAutoexec(context.Background())
	if err != nil {
		t.Fatalf("StartAutoexec() error = %v", err)
	}
	if n != 2 {
		t.Errorf("StartAutoexec() ran %d, want 2", n)
	}
	if v := globalEnv(t, r, "order"); v != lua.LString("first,second") {
		t.Errorf("order = %v", v)
	}

	if _, err := r.StartAutoexec(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second StartAutoexec() error = %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "01_first.lua")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := r.Script("01_first.lua"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("removed autoexec script was not unloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, ok := r.Script("02_second.lua"); !ok {
		t.Error("02_second.lua should stay loaded")
	}
}
