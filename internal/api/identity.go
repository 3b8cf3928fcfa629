package api

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/identity"
	"github.com/dshills/lumen/internal/vm"
)

// IdentityModule exposes the calling thread's identity level.
type IdentityModule struct {
	ctx *Context
}

// NewIdentityModule creates the identity module.
func NewIdentityModule(ctx *Context) *IdentityModule {
	return &IdentityModule{ctx: ctx}
}

// Name returns the module name.
func (m *IdentityModule) Name() string { return "identity" }

// RequiredIdentity returns 0; identity functions are open to every script.
func (m *IdentityModule) RequiredIdentity() int { return identity.LevelAnonymous }

// Register installs the module globals.
func (m *IdentityModule) Register(L *lua.LState) error {
	c := m.ctx
	c.global(L, "getidentity", m.get)
	c.global(L, "getthreadidentity", m.get)
	c.global(L, "setidentity", m.set("setidentity"))
	c.global(L, "setthreadidentity", m.set("setthreadidentity"))
	c.global(L, "checkcaller", m.checkcaller)
	return nil
}

func (m *IdentityModule) get(L *lua.LState) int {
	L.Push(lua.LNumber(m.ctx.identity(L)))
	return 1
}

func (m *IdentityModule) set(op string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := checkInt(L, op, 1)
		if err := m.ctx.Identities.Set(vm.RootThread(L), level); err != nil {
			raise(L, err)
		}
		return 0
	}
}

func (m *IdentityModule) checkcaller(L *lua.LState) int {
	L.Push(lua.LBool(m.ctx.Identities.IsPrivileged(vm.RootThread(L))))
	return 1
}
