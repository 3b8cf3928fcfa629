package bridge

import (
	"errors"

	"github.com/dshills/lumen/internal/fault"
)

// Errors for bridge operations.
var (
	// ErrUnknownCapability is returned when no capability has the given name or ID.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrInvalidName is returned for empty or malformed capability names.
	ErrInvalidName = errors.New("invalid capability name")

	// ErrNotCallable is returned when registering a value that is not a function.
	ErrNotCallable = errors.New("capability is not callable")
)

func notFound(op, name string) error {
	return &fault.Error{
		Kind:    fault.KindNotFound,
		Op:      op,
		Message: "no capability named " + name,
		Err:     ErrUnknownCapability,
	}
}

func invalidName(op, name string) error {
	return &fault.Error{
		Kind:    fault.KindInvalidArgument,
		Op:      op,
		Message: "bad capability name " + `"` + name + `"`,
		Err:     ErrInvalidName,
	}
}
