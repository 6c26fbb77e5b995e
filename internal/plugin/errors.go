package plugin

import (
	"errors"
	"fmt"
)

// Plugin system errors.
var (
	// ErrNotFound is returned when no instance exists for the plugin ID.
	ErrNotFound = errors.New("plugin not found")

	// ErrAlreadyInstalled is returned when installing over an existing
	// instance.
	ErrAlreadyInstalled = errors.New("plugin already installed")

	// ErrBusy is returned when a transition is already in flight for the
	// instance. Transitions never queue; the caller retries.
	ErrBusy = errors.New("plugin transition in progress")

	// ErrHookFailed marks a lifecycle hook fault.
	ErrHookFailed = errors.New("plugin lifecycle hook failed")

	// ErrInvalidTransition is returned when the operation is not legal
	// from the instance's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPermissionDenied is returned when a plugin uses a facade its
	// manifest does not declare.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrNoEntryPoint is returned when a manifest's entry point cannot be
	// resolved to hooks.
	ErrNoEntryPoint = errors.New("plugin has no resolvable entry point")

	// ErrNothingToRetry is returned by Retry when the instance has no
	// recorded failed transition.
	ErrNothingToRetry = errors.New("no failed transition to retry")
)

// BusyError identifies which transition held the instance.
type BusyError struct {
	PluginID   string
	Transition Transition
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("plugin %q busy: %s in progress", e.PluginID, e.Transition)
}

// Is lets errors.Is match against ErrBusy.
func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// HookError wraps a hook fault with the transition that invoked it and the
// state the instance held before the transition started.
type HookError struct {
	PluginID   string
	Transition Transition
	PriorState State
	Err        error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %q: %s hook failed (was %s): %v",
		e.PluginID, e.Transition, e.PriorState, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match against ErrHookFailed.
func (e *HookError) Is(target error) bool {
	return target == ErrHookFailed
}

// TransitionError reports an operation attempted from an illegal state.
type TransitionError struct {
	PluginID   string
	From       State
	Transition Transition
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plugin %q: cannot %s from state %s",
		e.PluginID, e.Transition, e.From)
}

// Is lets errors.Is match against ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
