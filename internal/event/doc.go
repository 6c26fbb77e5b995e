// Package event provides the shared event bus plugins communicate through.
//
// The bus is the host's nervous system: plugins and host components publish
// envelopes on dot-segmented topics and subscribe with wildcard patterns,
// without direct dependencies on each other.
//
// # Dispatch semantics
//
// Emit delivers synchronously to a snapshot of the listeners that were live
// when the call started; listeners added or removed mid-dispatch do not affect
// the current emit. Listeners fire in registration order. An error or panic in
// one listener is recovered, logged, and counted - it never propagates to the
// emitter or blocks sibling listeners.
//
// Registering the same handler twice for the same topic creates two
// independent subscriptions, each requiring its own unsubscription. This is
// documented behavior, not a defect.
//
// # Subscriptions
//
// Subscribe returns a first-class *Subscription handle; release is explicit
// through Unsubscribe (idempotent), never a garbage-collection side effect.
// Once subscriptions are atomically claimed and removed before their handler
// runs, so a re-entrant emit from inside the handler cannot deliver twice.
//
// # Namespacing
//
// Namespace returns a facade that prefixes topics with the namespace on both
// emit and subscribe while sharing the underlying registry entries, so
// unsubscribing through the facade removes the real entry. Reserved root
// namespaces (system, plugin, host, and the request/response coordination
// channels) pass through unprefixed so every plugin can hear platform
// broadcasts and answer cross-plugin requests. Drain tears down everything a
// facade created.
//
// # Request/response
//
// Coordinator layers correlated request/response semantics with a timeout on
// top of the bus. Each request settles exactly once: the first of a matching
// response or the deadline wins, and a response arriving after the deadline is
// a dropped no-op.
//
// # Subpackages
//
//   - topic: topic keys and trie-based wildcard matching
//   - dispatch: panic-isolated synchronous and worker-pool execution
package event
