// Package fault defines the error taxonomy shared by the runtime packages.
//
// Every error surfaced to a script or to Go callers carries one of the kinds
// below so callers can branch with errors.Is regardless of which package
// produced it:
//
//	if errors.Is(err, fault.ErrInvalidArgument) {
//	    // reject the call
//	}
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error.
type Kind int

// Error kinds.
const (
	// KindInvalidArgument is a wrong type or out-of-range value at an entry point.
	KindInvalidArgument Kind = iota + 1

	// KindNotFound is an operation on an absent record. Never raised to scripts.
	KindNotFound

	// KindPreconditionFailed is an operation whose target is not in a usable state.
	KindPreconditionFailed

	// KindCallbackFault is an error raised inside a user supplied callback.
	KindCallbackFault

	// KindAllocationFailure is resource exhaustion. Fatal.
	KindAllocationFailure
)

// Sentinel errors, one per kind.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrCallbackFault      = errors.New("callback fault")
	ErrAllocationFailure  = errors.New("allocation failure")
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindNotFound:
		return "not found"
	case KindPreconditionFailed:
		return "precondition failed"
	case KindCallbackFault:
		return "callback fault"
	case KindAllocationFailure:
		return "allocation failure"
	default:
		return "unknown"
	}
}

// Sentinel returns the sentinel error for the kind.
func (k Kind) Sentinel() error {
	switch k {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindNotFound:
		return ErrNotFound
	case KindPreconditionFailed:
		return ErrPreconditionFailed
	case KindCallbackFault:
		return ErrCallbackFault
	case KindAllocationFailure:
		return ErrAllocationFailure
	default:
		return nil
	}
}

// Raised reports whether errors of this kind are raised to the caller.
// NotFound is benign and CallbackFault is isolated at the invocation boundary.
func (k Kind) Raised() bool {
	return k == KindInvalidArgument || k == KindPreconditionFailed || k == KindAllocationFailure
}

// Error is a classified runtime error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.Sentinel()
}

// New creates a classified error.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or 0 if err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for _, k := range []Kind{KindInvalidArgument, KindNotFound, KindPreconditionFailed, KindCallbackFault, KindAllocationFailure} {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}
	return 0
}
