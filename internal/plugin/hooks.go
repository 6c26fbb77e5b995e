package plugin

import "context"

// HookFunc is a plain lifecycle hook.
type HookFunc func(ctx context.Context, pc *Context) error

// UpdateHookFunc receives the version being replaced.
type UpdateHookFunc func(ctx context.Context, pc *Context, oldVersion string) error

// ConfigHookFunc receives the settings snapshot being replaced.
type ConfigHookFunc func(ctx context.Context, pc *Context, oldConfig map[string]any) error

// Hooks is a plugin's capability record. Every field is optional: a nil hook
// means the plugin does not participate in that transition and the manager
// skips the call.
type Hooks struct {
	OnInstall      HookFunc
	OnEnable       HookFunc
	OnDisable      HookFunc
	OnUninstall    HookFunc
	OnUpdate       UpdateHookFunc
	OnConfigChange ConfigHookFunc
}
