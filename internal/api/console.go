package api

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/console"
	"github.com/dshills/lumen/internal/identity"
	"github.com/dshills/lumen/internal/vm"
)

// ConsoleModule routes script output into the console queue.
type ConsoleModule struct {
	ctx *Context
}

// NewConsoleModule creates the console module.
func NewConsoleModule(ctx *Context) *ConsoleModule {
	return &ConsoleModule{ctx: ctx}
}

// Name returns the module name.
func (m *ConsoleModule) Name() string { return "console" }

// RequiredIdentity returns 0; console output is open to every script.
func (m *ConsoleModule) RequiredIdentity() int { return identity.LevelAnonymous }

// Register installs the module globals, replacing print.
func (m *ConsoleModule) Register(L *lua.LState) error {
	c := m.ctx
	c.global(L, "print", m.write(console.LevelPrint))
	c.global(L, "rconsoleprint", m.write(console.LevelPrint))
	c.global(L, "rconsoleinfo", m.write(console.LevelInfo))
	c.global(L, "rconsolewarn", m.write(console.LevelWarn))
	c.global(L, "rconsoleerr", m.write(console.LevelError))
	c.global(L, "rconsoleclear", m.clear)
	return nil
}

// write joins its arguments with tabs, using tostring semantics, and
// queues the line at level.
func (m *ConsoleModule) write(level console.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		m.ctx.Console.Write(level, caller(L), strings.Join(parts, "\t"))
		return 0
	}
}

func (m *ConsoleModule) clear(L *lua.LState) int {
	m.ctx.Console.Clear()
	return 0
}

// caller returns the chunk and line of the calling Lua function.
func caller(L *lua.LState) string {
	return vm.ShortSource(strings.TrimRight(L.Where(1), ": "))
}
