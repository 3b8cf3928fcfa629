package api

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/console"
)

func TestEnvModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		local g = getgenv()
		assert(g == getgenv(), "global env is stable")
		assert(g ~= getrenv(), "global env is not the host globals")
		assert(g.print == print, "global env falls back to host globals")
		g.shared = 1
		assert(getrenv().shared == nil, "writes stay in the global env")

		local key = {}
		assert(getsenv(key) == getsenv(key))
		assert(getsenv(key) ~= getsenv({}))
		assert(getsenv("a") == getsenv("a"))
		assert(getsenv(0/0) == getsenv(0/0), "NaN keys share one env")
		assert(getsenv(0/0) ~= getsenv(0))

		local m = getmenv("mod")
		assert(m.print == nil, "module env has no fallback")

		assert(gethui() == gethui())
		assert(type(getreg()) == "table")
	`)
}

func TestIdentityModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		assert(getidentity() == 2)
		setthreadidentity(7)
		assert(getthreadidentity() == 7)
		local ok, err = pcall(setidentity, 9)
		assert(not ok and string.find(err, "between 0 and 8"), tostring(err))
		assert(getidentity() == 7)
	`)

	for _, arg := range []string{"-0.5", "8.9", "2.5", "0/0", "1/0", `"3"`} {
		t.Run(arg, func(t *testing.T) {
			fx.run(t, `
				local ok, err = pcall(setidentity, `+arg+`)
				assert(not ok, [[setidentity(`+arg+`) should fail]])
				assert(getidentity() == 7, "identity changed")
			`)
		})
	}
	fx.run(t, `
		local ok, err = pcall(setidentity, 1.5)
		assert(string.find(err, "no integer representation", 1, true), tostring(err))
		setidentity(3.0)
		assert(getidentity() == 3)
	`)

	if got := fx.ctx.Identities.Get(fx.L); got != 3 {
		t.Errorf("identity = %d, want 3", got)
	}
}

func TestClosureModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		local function target() return "A" end
		local replacement = function() return "B" end

		local original = hookfunction(target, replacement)
		assert(target() == "B")
		assert(original() == "A")
		assert(original ~= target)
		assert(isexecutorclosure(target))
		assert(isfunctionhooked(target))
		assert(not isfunctionhooked(replacement))
		assert(not isfunctionhooked(getgenv), "builtins are not hooked")

		assert(restorefunction(target))
		assert(not isfunctionhooked(target))
		assert(not restorefunction(target))
		assert(target() == "B", "restore is bookkeeping only")

		local again = replaceclosure(target, function() return "C" end)
		assert(again() == "B", "re-hook clones the current behaviour")
		assert(target() == "C")

		local self
		self = function()
			return pcall(hookfunction, self, function() end)
		end
		local ok = self()
		assert(not ok, "hooking a running function fails")

		local clone = clonefunction(original)
		assert(clone ~= original and clone() == "A")
		assert(getfunctionhash(clone) == getfunctionhash(original))
		assert(#getfunctionhash(clone) == 96)
		assert(not isexecutorclosure(clone), "a clone of a hook result is not a builtin")

		local genv = clonefunction(getgenv)
		assert(genv ~= getgenv and genv() == getgenv())
		assert(isexecutorclosure(genv), "a clone of a builtin is a builtin")
		assert(not pcall(getfunctionhash, print))

		local c = newcclosure(function(a, b) return a + b, "x" end)
		assert(iscclosure(c) and isexecutorclosure(c))
		local sum, tag = c(2, 3)
		assert(sum == 5 and tag == "x")
	`)
}

func TestHookMetamethod(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		local obj = setmetatable({}, { __index = function(_, k) return "A" .. k end })
		local mt = getrawmetatable(obj)
		setreadonly(mt, true)

		local old = hookmetamethod(obj, "__index", function(self, k) return "B" .. k end)
		assert(obj.x == "Bx")
		assert(old(obj, "x") == "Ax")
		assert(isreadonly(mt), "readonly mark is restored")

		local ok, err = pcall(hookmetamethod, {}, "__index", function() end)
		assert(not ok and string.find(err, "no metatable"), tostring(err))
		ok, err = pcall(hookmetamethod, obj, "__call", function() end)
		assert(not ok and string.find(err, "__call"), tostring(err))
	`)
}

func TestTableModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		local t = {}
		makereadonly(t)
		assert(isreadonly(t))
		assert(not pcall(rawset, t, "a", 1))
		assert(not pcall(setrawmetatable, t, {}))
		assert(not pcall(table.insert, t, 1))
		t.plain = 1
		assert(t.plain == 1, "plain assignment is not intercepted")
		makewriteable(t)
		rawset(t, "a", 1)
		assert(t.a == 1)

		local locked = setmetatable({}, { __metatable = "locked" })
		assert(getmetatable(locked) == "locked")
		local raw = getrawmetatable(locked)
		assert(type(raw) == "table" and raw.__metatable == "locked")

		local mt = {}
		assert(setrawmetatable(locked, mt) == locked)
		assert(getrawmetatable(locked) == mt)
		assert(getrawmetatable(1) == nil)
	`)
}

func TestGCModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		function alpha() return 1 end
		local up = 0
		function beta() up = up + 1; return "k" end
		marker = { marker = true, size = 3 }

		local found = filtergc("function", { Name = "alpha" }, true)
		assert(found == alpha, "alpha by name")

		found = filtergc("function", { Name = "beta", UpvalueCount = 1 })
		assert(#found == 1 and found[1] == beta)
		assert(#filtergc("function", { Name = "beta", UpvalueCount = 2 }) == 0)

		found = filtergc("function", { Hash = getfunctionhash(alpha) }, true)
		assert(found == alpha)

		assert(filtergc("function", { Name = "getgenv" }, true) == nil,
			"builtins are ignored by default")
		assert(filtergc("function", { Name = "getgenv", IgnoreExecutor = false }, true) == getgenv)

		found = filtergc("table", { Keys = { "marker" }, KeyValuePairs = { size = 3 } })
		assert(#found == 1 and found[1] == marker)

		local ok, err = pcall(filtergc, "thread", {})
		assert(not ok and string.find(err, "expected"), tostring(err))

		local all = getgc()
		local seen = false
		for _, v in ipairs(all) do
			if v == alpha then seen = true end
			assert(type(v) ~= "table", "tables only with includeTables")
		end
		assert(seen)
	`)
}

func TestSignalModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		local hits = {}
		local function handler(v) hits[#hits + 1] = v end

		local conn = connect("jump", handler)
		assert(conn.Enabled and conn.Connected)
		assert(conn.Function == handler)
		assert(conn.Signal == "jump")
		assert(tostring(conn) == "Connection(jump)")

		assert(firesignal("jump", 1) == 1)
		conn:Disable()
		assert(not conn.Enabled)
		assert(firesignal("jump", 2) == 0)
		conn:Enable()
		assert(conn:Fire(3))

		local list = getconnections("jump")
		assert(#list == 1 and list[1].Function == handler)
		assert(#getconnections() == 1)

		conn:Disconnect()
		assert(conn.Function == nil and not conn.Connected)
		assert(not conn:Fire(4))
		assert(#getconnections("jump") == 0)

		assert(#hits == 2 and hits[1] == 1 and hits[2] == 3)

		connect("boom", function() error("handler failed") end)
		local ran = 0
		connect("boom", function() ran = ran + 1 end)
		assert(firesignal("boom") == 1, "faulty handler is isolated")
		assert(ran == 1)
	`)

	errs := fx.ctx.Console.Errors()
	if len(errs) != 1 || !strings.Contains(errs[0].Text, "handler failed") {
		t.Errorf("console errors = %+v", errs)
	}
}

func TestExecModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		local f = loadstring("return 1 + 1")
		assert(f() == 2)

		local bad, msg = loadstring("x = ")
		assert(bad == nil and type(msg) == "string")

		loadstring("shared_value = 5")()
		assert(getgenv().shared_value == 5, "loadstring binds the global env")
		assert(rawget(getrenv(), "shared_value") == nil)

		local name, version = identifyexecutor()
		assert(name == "lumen" and version == "test")
		assert(getexecutorname() == "lumen")

		queue_on_teleport("print(1)")
		queueonteleport("print(2)")
		local q = getteleportqueue()
		assert(#q == 2 and q[2] == "print(2)")
		clearteleportqueue()
		assert(#getteleportqueue() == 0)

		local conn = connect("x", function() end)
		local ref = cloneref(conn)
		assert(ref ~= conn)
		assert(compareinstances(conn, ref))
		assert(not compareinstances(conn, connect("x", function() end)))
		assert(cloneref(5) == 5)
	`)

	fn, err := fx.ctx.LoadString(fx.L, "return 1", "")
	if err != nil {
		t.Fatal(err)
	}
	if fn.Proto.SourceName != LoadStringChunk {
		t.Errorf("chunk = %q, want %q", fn.Proto.SourceName, LoadStringChunk)
	}
}

func TestConsoleModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		print("a", 1, true, nil)
		rconsolewarn("careful")
		rconsoleerr("broken")
	`)

	msgs := fx.ctx.Console.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Level != console.LevelPrint || msgs[0].Text != "a\t1\ttrue\tnil" {
		t.Errorf("print = %+v", msgs[0])
	}
	if !strings.Contains(msgs[0].Source, "test.lua") {
		t.Errorf("source = %q", msgs[0].Source)
	}
	if msgs[1].Level != console.LevelWarn || msgs[2].Level != console.LevelError {
		t.Errorf("levels = %v, %v", msgs[1].Level, msgs[2].Level)
	}

	fx.run(t, `rconsoleclear()`)
	if fx.ctx.Console.Len() != 0 {
		t.Error("rconsoleclear should empty the console")
	}
}

func TestBridgeModule(t *testing.T) {
	fx := newFixture(t)
	fx.run(t, `
		id = bridge.register("double", function(x) return x * 2 end)
		assert(type(id) == "string" and #id == 36)
		local names = bridge.list()
		assert(#names == 1 and names[1] == "double")
	`)

	c, ok := fx.ctx.Bridge.Lookup("double")
	if !ok {
		t.Fatal("double not registered")
	}
	if got := fx.L.GetGlobal("id").String(); got != c.ID.String() {
		t.Errorf("id = %q, want %q", got, c.ID)
	}

	fx.run(t, `assert(bridge.unregister("double")); assert(not bridge.unregister("double"))`)
	if fx.ctx.Bridge.Len() != 0 {
		t.Error("unregister should remove the capability")
	}
}

func TestTeleportQueue(t *testing.T) {
	q := NewTeleportQueue()
	q.Push("a")
	q.Push("b")
	if q.Len() != 2 {
		t.Errorf("Len() = %d", q.Len())
	}
	snap := q.Snapshot()
	snap[0] = "changed"
	if got := q.Drain(); len(got) != 2 || got[0] != "a" {
		t.Errorf("Drain() = %v", got)
	}
	if q.Len() != 0 {
		t.Error("Drain() should empty the queue")
	}
}

func TestSameInstance(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	a := L.NewUserData()
	a.Value = []int{1}
	b := L.NewUserData()
	b.Value = []int{1}
	if sameInstance(a, b) {
		t.Error("non-comparable values are not the same instance")
	}
	if !sameInstance(a, a) {
		t.Error("a value is its own instance")
	}
	if sameInstance(lua.LString("x"), a) {
		t.Error("strings are not instances")
	}
}
