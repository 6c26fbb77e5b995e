package plugin

// State represents the lifecycle state of a plugin instance.
type State int32

// Plugin states.
const (
	// StateUninstalled - no instance exists.
	StateUninstalled State = iota

	// StateInstalled - instance created, OnInstall completed.
	StateInstalled

	// StateEnabled - plugin is active: subscriptions and timers live.
	StateEnabled

	// StateDisabled - plugin is dormant: everything it owned was purged.
	StateDisabled

	// StateUpdating - an update transition is in flight.
	StateUpdating

	// StateError - a lifecycle hook failed; Retry re-attempts the
	// recorded transition.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalled:
		return "installed"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateUpdating:
		return "updating"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// CanEnable reports whether Enable is a legal transition from the state.
func (s State) CanEnable() bool {
	return s == StateInstalled || s == StateDisabled
}

// CanUninstall reports whether Uninstall is a legal transition from the
// state. Enabled instances are disabled first by the manager.
func (s State) CanUninstall() bool {
	return s == StateInstalled || s == StateDisabled || s == StateEnabled || s == StateError
}

// Transition names a lifecycle operation, used in errors, broadcasts, and
// retry records.
type Transition string

// Lifecycle transitions.
const (
	TransitionInstall   Transition = "install"
	TransitionEnable    Transition = "enable"
	TransitionDisable   Transition = "disable"
	TransitionUninstall Transition = "uninstall"
	TransitionUpdate    Transition = "update"
	TransitionConfig    Transition = "config"
)
