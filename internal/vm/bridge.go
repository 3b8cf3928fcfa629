package vm

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"
)

// Bridge provides utilities for Go-Lua interoperability.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value.
func (b *Bridge) ToGoValue(lv lua.LValue) interface{} {
	return b.toGoValueWithVisited(lv, make(map[*lua.LTable]bool))
}

// toGoValueWithVisited converts a Lua value to a Go value, tracking visited tables.
func (b *Bridge) toGoValueWithVisited(lv lua.LValue, visited map[*lua.LTable]bool) interface{} {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil // Break circular reference
		}
		visited[v] = true
		return b.tableToGoWithVisited(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		// nil, functions and threads have no Go form
		return nil
	}
}

// tableToGoWithVisited converts a Lua table to a Go slice when it is a
// contiguous array, or to a map otherwise.
func (b *Bridge) tableToGoWithVisited(t *lua.LTable, visited map[*lua.LTable]bool) interface{} {
	if n, ok := arrayLen(t); ok {
		arr := make([]interface{}, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = b.toGoValueWithVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]interface{})
	t.ForEach(func(k, v lua.LValue) {
		m[keyString(k)] = b.toGoValueWithVisited(v, visited)
	})
	return m
}

// arrayLen reports whether t holds exactly the keys 1..n, and n.
// An empty table is not an array.
func arrayLen(t *lua.LTable) (int, bool) {
	isArray := true
	maxN, count := 0, 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})
	if !isArray || maxN == 0 || count != maxN {
		return 0, false
	}
	return maxN, true
}

// keyString renders a table key as a map key.
func keyString(k lua.LValue) string {
	switch kv := k.(type) {
	case lua.LString:
		return string(kv)
	case lua.LNumber:
		return strconv.FormatFloat(float64(kv), 'f', -1, 64)
	default:
		return k.String()
	}
}

// ToLuaValue converts a Go value to a Lua value.
func (b *Bridge) ToLuaValue(v interface{}) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []interface{}:
		t := b.L.NewTable()
		for i, e := range val {
			t.RawSetInt(i+1, b.ToLuaValue(e))
		}
		return t
	case []string:
		t := b.L.NewTable()
		for i, e := range val {
			t.RawSetInt(i+1, lua.LString(e))
		}
		return t
	case map[string]interface{}:
		t := b.L.NewTable()
		for k, e := range val {
			t.RawSetString(k, b.ToLuaValue(e))
		}
		return t
	default:
		return b.reflectToLua(v)
	}
}

// reflectToLua uses reflection to convert arbitrary Go values.
func (b *Bridge) reflectToLua(v interface{}) lua.LValue {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return lua.LNil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.reflectToLua(rv.Elem().Interface())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())

	case reflect.Slice, reflect.Array:
		t := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return t

	case reflect.Map:
		t := b.L.NewTable()
		for _, key := range rv.MapKeys() {
			t.RawSet(b.ToLuaValue(key.Interface()), b.ToLuaValue(rv.MapIndex(key).Interface()))
		}
		return t

	case reflect.Struct:
		return b.structToTable(rv)

	default:
		ud := b.L.NewUserData()
		ud.Value = v
		return ud
	}
}

// structToTable converts a Go struct to a Lua table keyed by json tag or
// field name.
func (b *Bridge) structToTable(rv reflect.Value) *lua.LTable {
	t := b.L.NewTable()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" && tag != "-" {
			if idx := strings.IndexByte(tag, ','); idx >= 0 {
				tag = tag[:idx]
			}
			if tag != "" {
				name = tag
			}
		}

		t.RawSetString(name, b.ToLuaValue(rv.Field(i).Interface()))
	}

	return t
}

// FromJSON decodes a JSON document into a Lua value.
func (b *Bridge) FromJSON(raw string) (lua.LValue, error) {
	if !gjson.Valid(raw) {
		return lua.LNil, fmt.Errorf("invalid json payload")
	}
	return b.fromResult(gjson.Parse(raw)), nil
}

// FromJSONArray decodes a JSON array into a list of Lua values. A non-array
// document becomes a single value.
func (b *Bridge) FromJSONArray(raw string) ([]lua.LValue, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("invalid json payload")
	}
	doc := gjson.Parse(raw)
	if !doc.IsArray() {
		return []lua.LValue{b.fromResult(doc)}, nil
	}
	var out []lua.LValue
	doc.ForEach(func(_, value gjson.Result) bool {
		out = append(out, b.fromResult(value))
		return true
	})
	return out, nil
}

func (b *Bridge) fromResult(r gjson.Result) lua.LValue {
	switch r.Type {
	case gjson.True:
		return lua.LTrue
	case gjson.False:
		return lua.LFalse
	case gjson.Number:
		return lua.LNumber(r.Float())
	case gjson.String:
		return lua.LString(r.String())
	case gjson.JSON:
		t := b.L.NewTable()
		if r.IsArray() {
			i := 1
			r.ForEach(func(_, value gjson.Result) bool {
				t.RawSetInt(i, b.fromResult(value))
				i++
				return true
			})
			return t
		}
		r.ForEach(func(key, value gjson.Result) bool {
			t.RawSetString(key.String(), b.fromResult(value))
			return true
		})
		return t
	default:
		return lua.LNil
	}
}

// ToJSON encodes a Lua value as JSON. Functions, threads and userdata encode
// as null; cycles are cut with null.
func (b *Bridge) ToJSON(lv lua.LValue) (string, error) {
	return toJSON(lv, make(map[*lua.LTable]bool))
}

// ToJSONArray encodes values as a JSON array.
func (b *Bridge) ToJSONArray(values []lua.LValue) (string, error) {
	doc := "[]"
	for _, v := range values {
		raw, err := toJSON(v, make(map[*lua.LTable]bool))
		if err != nil {
			return "", err
		}
		if doc, err = sjson.SetRaw(doc, "-1", raw); err != nil {
			return "", err
		}
	}
	return doc, nil
}

func toJSON(lv lua.LValue, visited map[*lua.LTable]bool) (string, error) {
	switch v := lv.(type) {
	case lua.LBool:
		return scalarJSON(bool(v))
	case lua.LNumber:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "null", nil
		}
		return scalarJSON(f)
	case lua.LString:
		return scalarJSON(string(v))
	case *lua.LTable:
		if visited[v] {
			return "null", nil
		}
		visited[v] = true
		defer delete(visited, v)
		return tableJSON(v, visited)
	default:
		return "null", nil
	}
}

func tableJSON(t *lua.LTable, visited map[*lua.LTable]bool) (string, error) {
	if n, ok := arrayLen(t); ok {
		doc := "[]"
		for i := 1; i <= n; i++ {
			raw, err := toJSON(t.RawGetInt(i), visited)
			if err != nil {
				return "", err
			}
			if doc, err = sjson.SetRaw(doc, "-1", raw); err != nil {
				return "", err
			}
		}
		return doc, nil
	}

	var keys []string
	values := make(map[string]lua.LValue)
	t.ForEach(func(k, v lua.LValue) {
		ks := keyString(k)
		keys = append(keys, ks)
		values[ks] = v
	})
	sort.Strings(keys)

	doc := "{}"
	for _, k := range keys {
		raw, err := toJSON(values[k], visited)
		if err != nil {
			return "", err
		}
		if doc, err = sjson.SetRaw(doc, jsonPathKey(k), raw); err != nil {
			return "", err
		}
	}
	return doc, nil
}

// scalarJSON renders a Go scalar as JSON.
func scalarJSON(v interface{}) (string, error) {
	doc, err := sjson.Set("", "v", v)
	if err != nil {
		return "", err
	}
	return gjson.Get(doc, "v").Raw, nil
}

// jsonPathKey escapes k for use as a single sjson object key.
func jsonPathKey(k string) string {
	var sb strings.Builder
	if _, err := strconv.Atoi(k); err == nil || k == "" {
		sb.WriteByte(':')
	}
	for i := 0; i < len(k); i++ {
		switch c := k[i]; c {
		case '.', '*', '?', '\\', '|', '#', '@', '!', ':', '=', '<', '>', '%', '~':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// GetTableString gets a string field from a Lua table.
func (b *Bridge) GetTableString(t *lua.LTable, key string) (string, bool) {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s), true
	}
	return "", false
}

// GetTableFunc gets a function field from a Lua table.
func (b *Bridge) GetTableFunc(t *lua.LTable, key string) (*lua.LFunction, bool) {
	f, ok := t.RawGetString(key).(*lua.LFunction)
	return f, ok
}

// CallFunc calls a Lua function with Go arguments and returns Go values.
// Must run on the goroutine that owns the VM.
func (b *Bridge) CallFunc(fn *lua.LFunction, args ...interface{}) ([]interface{}, error) {
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = b.ToLuaValue(a)
	}

	results, err := Invoke(b.L, fn, largs...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	out := make([]interface{}, len(results))
	for i, r := range results {
		out[i] = b.ToGoValue(r)
	}
	return out, nil
}

// WrapGoFunc wraps a Go function for use in Lua.
func (b *Bridge) WrapGoFunc(fn func(args []interface{}) (interface{}, error)) lua.LGFunction {
	return func(L *lua.LState) int {
		nArgs := L.GetTop()
		args := make([]interface{}, nArgs)
		for i := 1; i <= nArgs; i++ {
			args[i-1] = b.ToGoValue(L.Get(i))
		}

		result, err := fn(args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}

		if result == nil {
			return 0
		}
		L.Push(b.ToLuaValue(result))
		return 1
	}
}
