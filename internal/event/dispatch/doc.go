// Package dispatch executes event handlers with panic isolation.
//
// The executor recovers handler panics and converts them into results the bus
// can count and log, so one faulty subscriber never crashes the emitter or
// blocks its siblings. SyncDispatcher runs handlers in the caller's goroutine;
// AsyncDispatcher feeds a bounded queue drained by a worker pool for callers
// that must not block.
package dispatch
