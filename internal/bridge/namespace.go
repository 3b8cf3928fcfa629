package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NamespacePrefix is the prefix routed by Namespace.
const NamespacePrefix = "capability."

// Result is the outcome of a routed capability call.
type Result struct {
	Message string
	Values  []interface{}
	Err     error
}

// OK returns true if the call succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Namespace routes "capability.<name>" actions to registered capabilities.
type Namespace struct {
	registry *Registry
}

// NewNamespace creates a namespace handler over r.
func NewNamespace(r *Registry) *Namespace {
	return &Namespace{registry: r}
}

// Namespace returns the routed prefix without the trailing dot.
func (n *Namespace) Namespace() string {
	return strings.TrimSuffix(NamespacePrefix, ".")
}

// CanHandle returns true if action names a registered capability.
func (n *Namespace) CanHandle(action string) bool {
	name, err := parseAction(action)
	if err != nil {
		return false
	}
	_, ok := n.registry.Lookup(name)
	return ok
}

// Handle invokes the capability named by action and interprets its results.
func (n *Namespace) Handle(ctx context.Context, action string, args ...interface{}) Result {
	name, err := parseAction(action)
	if err != nil {
		return Result{Err: err}
	}

	values, err := n.registry.Invoke(ctx, name, args...)
	if err != nil {
		return Result{Err: err}
	}
	res := processResult(values)
	res.Values = values
	return res
}

// parseAction extracts the capability name from "capability.<name>".
func parseAction(action string) (string, error) {
	if !strings.HasPrefix(action, NamespacePrefix) {
		return "", invalidName("bridge.Handle", action)
	}
	name := strings.TrimPrefix(action, NamespacePrefix)
	if !validName(name) {
		return "", invalidName("bridge.Handle", action)
	}
	return name, nil
}

var errCapabilityFailed = errors.New("capability returned failure")

// processResult converts capability return values to a Result.
func processResult(values []interface{}) Result {
	if len(values) == 0 || values[0] == nil {
		return Result{}
	}

	switch v := values[0].(type) {
	case bool:
		if v {
			return Result{}
		}
		if len(values) > 1 {
			if msg, ok := values[1].(string); ok {
				return Result{Err: fmt.Errorf("%s", msg)}
			}
		}
		return Result{Err: errCapabilityFailed}

	case string:
		if v != "" {
			return Result{Err: fmt.Errorf("%s", v)}
		}
		return Result{}

	case map[string]interface{}:
		return processResultTable(v)

	default:
		return Result{}
	}
}

// processResultTable interprets a table result.
func processResultTable(tbl map[string]interface{}) Result {
	if errStr, ok := tbl["error"].(string); ok && errStr != "" {
		return Result{Err: fmt.Errorf("%s", errStr)}
	}

	msg, _ := tbl["message"].(string)

	switch status := tbl["status"].(type) {
	case bool:
		if !status {
			return Result{Err: errCapabilityFailed}
		}
	case string:
		if status == "error" || status == "failed" {
			if msg != "" {
				return Result{Err: fmt.Errorf("%s", msg)}
			}
			return Result{Err: errCapabilityFailed}
		}
	}

	return Result{Message: msg}
}
