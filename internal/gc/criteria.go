package gc

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/vm"
)

// ExecutorMarkers are chunk-name prefixes identifying code loaded by the
// runtime itself or compiled from a string.
var ExecutorMarkers = []string{"@lumen", "=loadstring", "<string>", "[string"}

// IsExecutorSource returns true if a chunk name carries an executor marker.
func IsExecutorSource(source string) bool {
	for _, m := range ExecutorMarkers {
		if strings.HasPrefix(source, m) {
			return true
		}
	}
	return false
}

// Pair is a key/value pair a table must contain.
type Pair struct {
	Key   lua.LValue
	Value lua.LValue
}

// Criteria restricts Filter results. Unset fields match everything; all set
// fields must match.
type Criteria struct {
	// Function criteria.
	Name           string
	UpvalueCount   *int
	ConstantCount  *int
	IgnoreExecutor bool
	Hash           string

	// Table criteria.
	Keys          []lua.LValue
	Values        []lua.LValue
	KeyValuePairs []Pair
	Metatable     lua.LValue
}

func (c Criteria) matchFunction(obj Object, fn *lua.LFunction) bool {
	if c.Name != "" && obj.Name != c.Name {
		return false
	}
	if c.UpvalueCount != nil && vm.UpvalueCount(fn) != *c.UpvalueCount {
		return false
	}
	if c.ConstantCount != nil && vm.ConstantCount(fn) != *c.ConstantCount {
		return false
	}
	if c.IgnoreExecutor && (obj.Tracked || IsExecutorSource(vm.SourceName(fn))) {
		return false
	}
	if c.Hash != "" {
		h, err := FunctionHash(fn)
		if err != nil || h != c.Hash {
			return false
		}
	}
	return true
}

func (c Criteria) matchTable(t *lua.LTable) bool {
	for _, k := range c.Keys {
		if t.RawGet(k) == lua.LNil {
			return false
		}
	}
	if len(c.Values) > 0 {
		present := make(map[lua.LValue]bool)
		t.ForEach(func(_, v lua.LValue) { present[v] = true })
		for _, v := range c.Values {
			if !present[v] {
				return false
			}
		}
	}
	for _, p := range c.KeyValuePairs {
		if t.RawGet(p.Key) != p.Value {
			return false
		}
	}
	if c.Metatable != nil && c.Metatable != lua.LNil && t.Metatable != c.Metatable {
		return false
	}
	return true
}
