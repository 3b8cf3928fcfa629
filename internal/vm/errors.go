package vm

import "errors"

// Errors for VM operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when execution exceeds the configured timeout.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrExecutorClosed is returned when attempting to use a closed executor.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrQueueFull is returned by ExecuteAsync when the executor queue is full.
	ErrQueueFull = errors.New("lua executor queue full")

	// ErrReadOnly is returned when writing to a table marked read-only.
	ErrReadOnly = errors.New("attempt to modify a readonly table")
)
