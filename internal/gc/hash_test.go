package gc

import (
	"errors"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/fault"
)

func stringReader(s string) *strings.Reader { return strings.NewReader(s) }

func TestFunctionHash(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	a := compileFunc(t, L, `return 1 + 2`, "@a.lua")
	b := compileFunc(t, L, `return 1 + 2`, "@b.lua")
	c := compileFunc(t, L, `return "different"`, "@c.lua")

	ha, err := FunctionHash(a)
	if err != nil {
		t.Fatalf("FunctionHash() error = %v", err)
	}
	if len(ha) != 96 {
		t.Errorf("hash length = %d, want 96 hex chars", len(ha))
	}

	hb, _ := FunctionHash(b)
	hc, _ := FunctionHash(c)
	if ha != hb {
		t.Error("identical code should hash the same regardless of chunk name")
	}
	if ha == hc {
		t.Error("different code should hash differently")
	}

	_, err = FunctionHash(L.NewFunction(func(*lua.LState) int { return 0 }))
	if !errors.Is(err, fault.ErrInvalidArgument) {
		t.Errorf("Go function: error = %v, want InvalidArgument", err)
	}
}

func TestIsExecutorSource(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"@lumen/prelude.lua", true},
		{"=loadstring", true},
		{"<string>", true},
		{`[string "x"]`, true},
		{"@scripts/user.lua", false},
		{"[G]", false},
	}
	for _, tt := range tests {
		if got := IsExecutorSource(tt.source); got != tt.want {
			t.Errorf("IsExecutorSource(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}
