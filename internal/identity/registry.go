package identity

import (
	"sync"
	"sync/atomic"
)

// Registry maps execution contexts to capability levels.
type Registry struct {
	mu     sync.RWMutex
	levels map[any]int

	def atomic.Int32
}

// NewRegistry creates a registry whose default level is LevelExecutor.
func NewRegistry() *Registry {
	r := &Registry{
		levels: make(map[any]int),
	}
	r.def.Store(LevelExecutor)
	return r
}

// Default returns the level reported for contexts that never set one.
func (r *Registry) Default() int {
	return int(r.def.Load())
}

// SetDefault changes the process-wide default level.
func (r *Registry) SetDefault(level int) error {
	if err := CheckLevel("setdefaultidentity", level); err != nil {
		return err
	}
	r.def.Store(int32(level))
	return nil
}

// Get returns the level of ctx, or the default if none was set.
func (r *Registry) Get(ctx any) int {
	r.mu.RLock()
	level, ok := r.levels[ctx]
	r.mu.RUnlock()
	if ok {
		return level
	}
	return r.Default()
}

// Set stores the level of ctx. Only ctx observes the change.
func (r *Registry) Set(ctx any, level int) error {
	if err := CheckLevel("setidentity", level); err != nil {
		return err
	}

	r.mu.Lock()
	r.levels[ctx] = level
	r.mu.Unlock()
	return nil
}

// IsPrivileged returns true if ctx is at executor level or higher.
func (r *Registry) IsPrivileged(ctx any) bool {
	return r.Get(ctx) >= PrivilegedThreshold
}

// Forget drops the entry for ctx. Called when the context ends.
func (r *Registry) Forget(ctx any) {
	r.mu.Lock()
	delete(r.levels, ctx)
	r.mu.Unlock()
}

// Len returns the number of contexts with an explicit level.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.levels)
}

// Reset clears every entry and restores the default. Test use only.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.levels = make(map[any]int)
	r.mu.Unlock()
	r.def.Store(LevelExecutor)
}
