// Package license gates paid plugin features behind verifiable entitlements.
//
// The validator answers "may this user activate this feature of this plugin"
// without trusting the client: entitlement records come from the external
// license service signed with HMAC-SHA256 and are verified before use. A
// plugin with no declared pricing always validates with zero remote calls.
//
// Results are cached per (user, plugin) with a TTL. Concurrent validations
// for the same stale key are collapsed into a single in-flight remote call.
// When the license service is unreachable the validator falls back to the
// last good cache entry within a grace window; past it, access is denied with
// a retryable error rather than silently granted.
package license
