package gc

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/fault"
)

// FunctionHash returns the hex SHA-384 of a Lua function's bytecode and
// constants, including nested prototypes. Go functions have no bytecode and
// yield an InvalidArgument error.
func FunctionHash(fn *lua.LFunction) (string, error) {
	if fn == nil || fn.IsG || fn.Proto == nil {
		return "", fault.New(fault.KindInvalidArgument, "getfunctionhash", "lua function expected")
	}

	h := sha512.New384()
	writeProto(h, fn.Proto)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeProto(w io.Writer, p *lua.FunctionProto) {
	var buf [4]byte
	header := []byte{p.NumUpvalues, p.NumParameters, p.IsVarArg}
	w.Write(header)
	for _, inst := range p.Code {
		binary.LittleEndian.PutUint32(buf[:], inst)
		w.Write(buf[:])
	}
	for _, c := range p.Constants {
		fmt.Fprintf(w, "%s:%s;", c.Type(), c.String())
	}
	for _, child := range p.FunctionPrototypes {
		w.Write([]byte{'{'})
		writeProto(w, child)
		w.Write([]byte{'}'})
	}
}
