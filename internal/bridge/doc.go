// Package bridge exposes script-registered capabilities to native code.
//
// A script registers a callable under a name and receives a stable
// capability ID. Platform code then invokes the capability by name or ID,
// either with Go values or with a JSON array payload. All invocations are
// serialized through the VM executor.
//
// Names of the form "capability.<name>" are routed by Namespace, which turns
// the callable's return values into a Result:
//
//	nil or true           success
//	false, "message"      failure with message
//	"message"             failure with message
//	{ error = "..." }     failure
//	{ status = "error", message = "..." }
//	{ message = "..." }   success with message
package bridge
