// Package plugin implements the host's plugin lifecycle.
//
// A plugin is described by a Manifest (plugin.json), resolved to a set of
// optional lifecycle hooks (a Lua script or a registered native factory),
// and managed as an Instance that moves through the states:
//
//	uninstalled -> installed -> enabled <-> disabled -> uninstalled
//	                               |
//	                           updating
//
// Any failed install, enable, uninstall, or unrecoverable update moves the
// instance to the error state; Retry re-attempts the recorded transition.
//
// The Manager serializes transitions per instance with a busy flag: a
// concurrent transition attempt fails immediately with ErrBusy rather than
// queueing, so hook invocations never interleave. Hooks run with panic
// recovery and a bounded timeout.
//
// Hooks receive a Context facade carrying everything a plugin may touch:
// a namespaced view of the event bus, a storage namespace, its settings
// document, the request/response coordinator, timers the instance owns, and
// outbound HTTP when the manifest declares the network permission. Disable
// and uninstall purge the instance's subscriptions and timers
// unconditionally, even when the OnDisable hook fails.
//
// Paid features declared in the manifest are validated against the license
// validator before OnEnable runs; a denial leaves the state unchanged.
package plugin
