package hook

import (
	"errors"
	"fmt"

	"github.com/dshills/lumen/internal/fault"
)

// Errors returned by the engine. Each is wrapped in a *fault.Error carrying
// its kind.
var (
	// ErrTypeMismatch is returned when a target or replacement is not callable.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrNoMetatable is returned when hooking a metamethod of an object
	// without a metatable.
	ErrNoMetatable = errors.New("object has no metatable")

	// ErrUnknownMethod is returned when the metatable lacks the named entry.
	ErrUnknownMethod = errors.New("unknown metamethod")
)

func typeMismatch(op, format string, args ...interface{}) error {
	return &fault.Error{
		Kind:    fault.KindInvalidArgument,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrTypeMismatch,
	}
}

func precondition(op string, err error, format string, args ...interface{}) error {
	return &fault.Error{
		Kind:    fault.KindPreconditionFailed,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
