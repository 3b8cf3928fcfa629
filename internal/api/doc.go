// Package api defines the global functions scripts see.
//
// Each Module installs a group of related globals into the host globals
// table. Every Go function a module installs is recorded as a host builtin,
// so isexecutorclosure recognizes it, and tracked by the introspector under
// its global name.
//
// Some entry points are privileged: they raise an "insufficient identity"
// error unless the calling thread's identity reaches the module's
// RequiredIdentity.
//
//	env       getgenv getrenv getsenv getmenv getreg gethui
//	identity  getidentity setidentity checkcaller ...
//	closure   hookfunction restorefunction hookmetamethod clonefunction ...
//	table     getrawmetatable setrawmetatable setreadonly isreadonly ...
//	gc        getgc filtergc
//	signal    connect getconnections firesignal
//	exec      loadstring identifyexecutor queue_on_teleport cloneref ...
//	console   print rconsoleprint rconsolewarn rconsoleerr rconsoleclear
//	bridge    bridge.register bridge.unregister bridge.list
package api
