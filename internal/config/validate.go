package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dshills/lumen/internal/identity"
)

// Errors returned by configuration operations.
var (
	// ErrTypeMismatch indicates a setting has the wrong type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrValidationFailed indicates a setting is out of range.
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationError reports an invalid setting.
type ValidationError struct {
	Path    string
	Value   any
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid config: " + e.Message
	}
	return fmt.Sprintf("invalid config %s: %s", e.Path, e.Message)
}

// Unwrap returns the underlying sentinel.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(path string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{
		Path:    path,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrValidationFailed,
	}
}

// Validate checks every setting and returns the first problem found.
func (c Config) Validate() error {
	if c.Executor.Name == "" {
		return invalid("executor.name", c.Executor.Name, "must not be empty")
	}
	if !identity.ValidLevel(c.Identity.Default) {
		return invalid("identity.default", c.Identity.Default,
			"must be between %d and %d, got %d", identity.MinLevel, identity.MaxLevel, c.Identity.Default)
	}
	if c.VM.CallStackSize <= 0 {
		return invalid("vm.call_stack_size", c.VM.CallStackSize, "must be positive")
	}
	if c.VM.RegistryMaxSize <= 0 {
		return invalid("vm.registry_max_size", c.VM.RegistryMaxSize, "must be positive")
	}
	if c.VM.ExecutionTimeout.Duration < 0 {
		return invalid("vm.execution_timeout", c.VM.ExecutionTimeout, "must not be negative")
	}
	if c.VM.QueueSize <= 0 {
		return invalid("vm.queue_size", c.VM.QueueSize, "must be positive")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", c.Logging.Level, "unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return invalid("logging.format", c.Logging.Format, "must be text or json")
	}
	if c.Console.Capacity <= 0 {
		return invalid("console.capacity", c.Console.Capacity, "must be positive")
	}
	return nil
}
