package bridge

import (
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/signal"
)

// Default capability and signal names.
const (
	ToggleVisibility = "toggle_visibility"
	VisibilitySignal = "visibility"
)

// Visibility is the host UI visibility flag driven by the toggle_visibility
// capability.
type Visibility struct {
	visible atomic.Bool
	hub     *signal.Hub
}

// NewVisibility creates a visibility flag. Changes are emitted on hub as the
// "visibility" signal when hub is not nil.
func NewVisibility(initial bool, hub *signal.Hub) *Visibility {
	v := &Visibility{hub: hub}
	v.visible.Store(initial)
	return v
}

// Visible returns the current flag.
func (v *Visibility) Visible() bool {
	return v.visible.Load()
}

// Toggle flips the flag, emits the signal on L and returns the new value.
// Must run on the goroutine that owns L.
func (v *Visibility) Toggle(L *lua.LState) bool {
	for {
		old := v.visible.Load()
		if v.visible.CompareAndSwap(old, !old) {
			if v.hub != nil {
				v.hub.Emit(L, VisibilitySignal, lua.LBool(!old))
			}
			return !old
		}
	}
}

// RegisterDefaults registers the built-in capabilities on r.
func RegisterDefaults(r *Registry, v *Visibility) error {
	fn := r.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(v.Toggle(L)))
		return 1
	})
	_, err := r.Register(ToggleVisibility, fn)
	return err
}
