package plugin

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Instance is one installed plugin: its manifest, its hook set, and
// everything it owns on the host. Created by Install, destroyed by
// Uninstall.
type Instance struct {
	mu       sync.RWMutex
	manifest *Manifest
	hooks    Hooks
	pctx     *Context

	// closer releases entry-point resources (the Lua state for script
	// plugins); nil for native plugins.
	closer func() error

	state atomic.Int32

	// busy serializes transitions. A CAS failure means another transition
	// is in flight and the caller gets ErrBusy immediately.
	busy       atomic.Bool
	transition atomic.Value // Transition

	// failed records the transition to re-attempt via Retry.
	failed atomic.Value // *failedTransition

	installedAt time.Time
}

// failedTransition captures a transition that moved the instance to Error.
type failedTransition struct {
	transition Transition
	run        func(ctx context.Context) error
}

// State returns the instance's current lifecycle state.
func (in *Instance) State() State {
	return State(in.state.Load())
}

func (in *Instance) setState(s State) {
	in.state.Store(int32(s))
}

// Manifest returns a copy of the instance's current manifest.
func (in *Instance) Manifest() *Manifest {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.manifest.Clone()
}

// ID returns the plugin ID. Stable across updates.
func (in *Instance) ID() string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.manifest.ID
}

// Version returns the current manifest version.
func (in *Instance) Version() string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.manifest.Version
}

// Context returns the facade handed to this instance's hooks.
func (in *Instance) Context() *Context {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.pctx
}

// InstalledAt returns when the instance was created.
func (in *Instance) InstalledAt() time.Time {
	return in.installedAt
}

// begin claims the busy flag for a transition. Exactly one caller wins; the
// loser receives a BusyError naming the in-flight transition.
func (in *Instance) begin(t Transition) error {
	if !in.busy.CompareAndSwap(false, true) {
		holder := t
		if v := in.transition.Load(); v != nil {
			holder = v.(Transition)
		}
		return &BusyError{PluginID: in.ID(), Transition: holder}
	}
	in.transition.Store(t)
	return nil
}

// end releases the busy flag.
func (in *Instance) end() {
	in.busy.Store(false)
}

// recordFailure stores the transition for Retry.
func (in *Instance) recordFailure(t Transition, run func(ctx context.Context) error) {
	in.failed.Store(&failedTransition{transition: t, run: run})
}

// clearFailure drops the retry record after a successful transition.
func (in *Instance) clearFailure() {
	in.failed.Store((*failedTransition)(nil))
}

func (in *Instance) failedTransition() *failedTransition {
	v := in.failed.Load()
	if v == nil {
		return nil
	}
	ft, _ := v.(*failedTransition)
	return ft
}

// swap replaces the instance's manifest and hooks, used by Update and its
// rollback path.
func (in *Instance) swap(m *Manifest, hooks Hooks, pctx *Context, closer func() error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.manifest = m
	in.hooks = hooks
	in.pctx = pctx
	in.closer = closer
}

// hookSet returns the current hooks under the read lock.
func (in *Instance) hookSet() Hooks {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.hooks
}

// closeEntry releases entry-point resources, once.
func (in *Instance) closeEntry() error {
	in.mu.Lock()
	closer := in.closer
	in.closer = nil
	in.mu.Unlock()

	if closer == nil {
		return nil
	}
	return closer()
}
