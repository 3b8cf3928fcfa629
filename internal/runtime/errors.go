package runtime

import "errors"

// Runtime errors.
var (
	// ErrAlreadyStarted is returned by Start when the runtime is running.
	ErrAlreadyStarted = errors.New("runtime already started")

	// ErrNotStarted is returned by operations that need the executor loop.
	ErrNotStarted = errors.New("runtime not started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("runtime closed")
)

// InitError reports the component that failed while building a runtime.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// RunError reports a failed script run.
type RunError struct {
	Script string
	Err    error
}

func (e *RunError) Error() string {
	return "run " + e.Script + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}
