package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/internal/event"
	"github.com/gantryio/gantry/internal/event/topic"
	"github.com/gantryio/gantry/internal/license"
	"github.com/gantryio/gantry/internal/observability"
	"github.com/gantryio/gantry/internal/plugin/lua"
	"github.com/gantryio/gantry/internal/storage"
)

// Platform broadcast topics. Reserved roots, so plugins hear them through
// their namespaced facades unprefixed.
const (
	TopicInstalled     topic.Topic = "plugin.installed"
	TopicEnabled       topic.Topic = "plugin.enabled"
	TopicDisabled      topic.Topic = "plugin.disabled"
	TopicUninstalled   topic.Topic = "plugin.uninstalled"
	TopicUpdated       topic.Topic = "plugin.updated"
	TopicPluginError   topic.Topic = "plugin.error"
	TopicConfigChanged topic.Topic = "config.changed"
)

// DefaultHookTimeout bounds a single lifecycle hook invocation.
const DefaultHookTimeout = 30 * time.Second

// LifecycleEvent is the payload of plugin.* broadcasts.
type LifecycleEvent struct {
	PluginID   string `json:"pluginId"`
	Version    string `json:"version"`
	State      string `json:"state"`
	Transition string `json:"transition"`
	Error      string `json:"error,omitempty"`
}

// ConfigChangedEvent is the payload of config.changed broadcasts.
type ConfigChangedEvent struct {
	PluginID string         `json:"pluginId"`
	Settings map[string]any `json:"settings"`
}

// Manager drives plugins through their lifecycle. One transition per
// instance at a time; a concurrent attempt fails immediately with ErrBusy.
type Manager struct {
	bus       *event.Bus
	coord     *event.Coordinator
	store     storage.Store
	settings  *config.SettingsStore
	validator *license.Validator
	natives   *NativeRegistry
	logger    *slog.Logger
	metrics   observability.MetricsRecorder

	hookTimeout time.Duration
	userID      string

	mu        sync.RWMutex
	instances map[string]*Instance
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHookTimeout bounds each lifecycle hook invocation.
func WithHookTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.hookTimeout = d
		}
	}
}

// WithUserID sets the host user's identity for license checks and plugin
// contexts.
func WithUserID(id string) ManagerOption {
	return func(m *Manager) { m.userID = id }
}

// WithMetrics sets the transition metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) ManagerOption {
	return func(m *Manager) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

// WithNativeRegistry sets the registry used to resolve native entry points.
func WithNativeRegistry(r *NativeRegistry) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.natives = r
		}
	}
}

// NewManager creates a lifecycle manager.
func NewManager(
	bus *event.Bus,
	coord *event.Coordinator,
	store storage.Store,
	settings *config.SettingsStore,
	validator *license.Validator,
	logger *slog.Logger,
	opts ...ManagerOption,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		bus:         bus,
		coord:       coord,
		store:       store,
		settings:    settings,
		validator:   validator,
		natives:     NewNativeRegistry(),
		logger:      logger.With(slog.String("component", "plugin.manager")),
		metrics:     observability.NoopMetrics{},
		hookTimeout: DefaultHookTimeout,
		instances:   make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Natives returns the manager's native factory registry.
func (m *Manager) Natives() *NativeRegistry {
	return m.natives
}

// Get returns the instance for the plugin ID.
func (m *Manager) Get(id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	return inst, nil
}

// List returns every instance, sorted by plugin ID.
func (m *Manager) List() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// State returns the lifecycle state for the plugin ID; StateUninstalled when
// no instance exists.
func (m *Manager) State(id string) State {
	inst, err := m.Get(id)
	if err != nil {
		return StateUninstalled
	}
	return inst.State()
}

// Install creates an instance for the manifest and invokes OnInstall.
// A hook fault leaves the instance in Error with the transition recorded for
// Retry.
func (m *Manager) Install(ctx context.Context, manifest *Manifest) error {
	if manifest == nil {
		return ErrNilManifest
	}
	if err := manifest.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.instances[manifest.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", manifest.ID, ErrAlreadyInstalled)
	}

	inst, err := m.buildInstance(manifest.Clone())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.instances[manifest.ID] = inst
	m.mu.Unlock()

	if err := inst.begin(TransitionInstall); err != nil {
		return err
	}
	defer inst.end()

	return m.doInstall(ctx, inst, inst.State())
}

// doInstall runs the install hook. prior is the state the transition started
// from; Retry passes the originally recorded one so a re-attempt is not
// blocked by the Error state it is recovering from.
func (m *Manager) doInstall(ctx context.Context, inst *Instance, prior State) error {
	start := time.Now()

	err := m.runHook(ctx, inst, func(hctx context.Context) error {
		hooks := inst.hookSet()
		if hooks.OnInstall == nil {
			return nil
		}
		return hooks.OnInstall(hctx, inst.Context())
	})
	m.metrics.RecordTransition(ctx, string(TransitionInstall), time.Since(start), err)

	if err != nil {
		inst.setState(StateError)
		inst.recordFailure(TransitionInstall, func(rctx context.Context) error {
			return m.doInstall(rctx, inst, prior)
		})
		hookErr := &HookError{
			PluginID:   inst.ID(),
			Transition: TransitionInstall,
			PriorState: prior,
			Err:        err,
		}
		m.broadcast(ctx, TopicPluginError, inst, TransitionInstall, hookErr)
		return hookErr
	}

	inst.setState(StateInstalled)
	inst.clearFailure()
	m.broadcast(ctx, TopicInstalled, inst, TransitionInstall, nil)
	return nil
}

// Enable validates every gated feature, then invokes OnEnable. A license
// denial fails the transition before the hook runs; the state is unchanged.
func (m *Manager) Enable(ctx context.Context, id string) error {
	inst, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := inst.begin(TransitionEnable); err != nil {
		return err
	}
	defer inst.end()

	return m.doEnable(ctx, inst, inst.State())
}

// doEnable checks the license and runs the enable hook. prior carries the
// state the transition left; on a retry it is the recorded pre-failure state,
// so the guard below admits the re-attempt.
func (m *Manager) doEnable(ctx context.Context, inst *Instance, prior State) error {
	if !prior.CanEnable() {
		return &TransitionError{PluginID: inst.ID(), From: prior, Transition: TransitionEnable}
	}

	if err := m.checkLicense(ctx, inst); err != nil {
		return err
	}

	start := time.Now()
	err := m.runHook(ctx, inst, func(hctx context.Context) error {
		hooks := inst.hookSet()
		if hooks.OnEnable == nil {
			return nil
		}
		return hooks.OnEnable(hctx, inst.Context())
	})
	m.metrics.RecordTransition(ctx, string(TransitionEnable), time.Since(start), err)

	if err != nil {
		inst.setState(StateError)
		inst.recordFailure(TransitionEnable, func(rctx context.Context) error {
			return m.doEnable(rctx, inst, prior)
		})
		hookErr := &HookError{
			PluginID:   inst.ID(),
			Transition: TransitionEnable,
			PriorState: prior,
			Err:        err,
		}
		m.broadcast(ctx, TopicPluginError, inst, TransitionEnable, hookErr)
		return hookErr
	}

	inst.setState(StateEnabled)
	inst.clearFailure()
	m.broadcast(ctx, TopicEnabled, inst, TransitionEnable, nil)
	return nil
}

// checkLicense validates every declared paid feature for the host user. Any
// denial or validation failure blocks the enable.
func (m *Manager) checkLicense(ctx context.Context, inst *Instance) error {
	manifest := inst.Manifest()
	for _, feature := range manifest.PaidFeatures() {
		ok, err := m.validator.Validate(ctx, manifest.ID, m.userID, feature)
		if err != nil {
			return fmt.Errorf("enable %q: %w", manifest.ID, err)
		}
		if !ok {
			return &license.FeatureError{
				PluginID: manifest.ID,
				UserID:   m.userID,
				Feature:  feature,
			}
		}
	}
	return nil
}

// Disable invokes OnDisable, then unconditionally purges everything the
// instance owns. The instance lands in Disabled even when the hook fails;
// the hook error is returned to the caller.
func (m *Manager) Disable(ctx context.Context, id string) error {
	inst, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := inst.begin(TransitionDisable); err != nil {
		return err
	}
	defer inst.end()

	return m.doDisable(ctx, inst)
}

func (m *Manager) doDisable(ctx context.Context, inst *Instance) error {
	prior := inst.State()
	if prior != StateEnabled {
		return &TransitionError{PluginID: inst.ID(), From: prior, Transition: TransitionDisable}
	}

	start := time.Now()
	hookErr := m.runHook(ctx, inst, func(hctx context.Context) error {
		hooks := inst.hookSet()
		if hooks.OnDisable == nil {
			return nil
		}
		return hooks.OnDisable(hctx, inst.Context())
	})
	m.metrics.RecordTransition(ctx, string(TransitionDisable), time.Since(start), hookErr)

	// Cleanup is unconditional: subscriptions and timers go even when the
	// hook failed.
	pctx := inst.Context()
	removed := pctx.events.Drain()
	cancelled := pctx.timers.purge()

	inst.setState(StateDisabled)
	m.broadcast(ctx, TopicDisabled, inst, TransitionDisable, nil)

	m.logger.Info("plugin disabled",
		slog.String("plugin_id", inst.ID()),
		slog.Int("subscriptions_removed", removed),
		slog.Int("timers_cancelled", cancelled))

	if hookErr != nil {
		return &HookError{
			PluginID:   inst.ID(),
			Transition: TransitionDisable,
			PriorState: prior,
			Err:        hookErr,
		}
	}
	return nil
}

// Uninstall disables the plugin if needed, invokes OnUninstall, and destroys
// the instance with its settings and storage namespace.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	inst, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := inst.begin(TransitionUninstall); err != nil {
		return err
	}
	defer inst.end()

	return m.doUninstall(ctx, inst, inst.State())
}

func (m *Manager) doUninstall(ctx context.Context, inst *Instance, prior State) error {
	if !prior.CanUninstall() {
		return &TransitionError{PluginID: inst.ID(), From: prior, Transition: TransitionUninstall}
	}

	if prior == StateEnabled {
		// A failing OnDisable does not block removal; the cleanup part
		// of doDisable already ran.
		if err := m.doDisable(ctx, inst); err != nil {
			m.logger.Warn("disable before uninstall failed",
				slog.String("plugin_id", inst.ID()),
				slog.Any("error", err))
		}
	}

	start := time.Now()
	err := m.runHook(ctx, inst, func(hctx context.Context) error {
		hooks := inst.hookSet()
		if hooks.OnUninstall == nil {
			return nil
		}
		return hooks.OnUninstall(hctx, inst.Context())
	})
	m.metrics.RecordTransition(ctx, string(TransitionUninstall), time.Since(start), err)

	if err != nil {
		inst.setState(StateError)
		inst.recordFailure(TransitionUninstall, func(rctx context.Context) error {
			return m.doUninstall(rctx, inst, prior)
		})
		hookErr := &HookError{
			PluginID:   inst.ID(),
			Transition: TransitionUninstall,
			PriorState: prior,
			Err:        err,
		}
		m.broadcast(ctx, TopicPluginError, inst, TransitionUninstall, hookErr)
		return hookErr
	}

	m.destroyInstance(ctx, inst)
	return nil
}

// destroyInstance removes every trace of the instance from the host.
func (m *Manager) destroyInstance(ctx context.Context, inst *Instance) {
	id := inst.ID()

	pctx := inst.Context()
	pctx.events.Drain()
	pctx.timers.close()

	if err := inst.closeEntry(); err != nil {
		m.logger.Warn("closing plugin entry point failed",
			slog.String("plugin_id", id),
			slog.Any("error", err))
	}

	m.settings.Remove(id)
	if err := m.store.Clear(id); err != nil {
		m.logger.Warn("clearing plugin storage failed",
			slog.String("plugin_id", id),
			slog.Any("error", err))
	}
	m.validator.Forget(id)

	m.mu.Lock()
	delete(m.instances, id)
	m.mu.Unlock()

	inst.setState(StateUninstalled)
	m.broadcast(ctx, TopicUninstalled, inst, TransitionUninstall, nil)
}

// Update swaps the instance onto a new manifest while Enabled. On hook
// failure it rolls back to the previous manifest when that entry point still
// resolves; otherwise the instance lands in Error.
func (m *Manager) Update(ctx context.Context, id string, newManifest *Manifest) error {
	if newManifest == nil {
		return ErrNilManifest
	}
	if err := newManifest.Validate(); err != nil {
		return err
	}

	inst, err := m.Get(id)
	if err != nil {
		return err
	}
	if newManifest.ID != id {
		return fmt.Errorf("update %q: manifest carries id %q", id, newManifest.ID)
	}
	if err := inst.begin(TransitionUpdate); err != nil {
		return err
	}
	defer inst.end()

	return m.doUpdate(ctx, inst, newManifest.Clone())
}

// updateSnapshot captures the running entry before an update swaps it out,
// so a failed attempt can roll back and a retried one still sees the old
// version.
type updateSnapshot struct {
	manifest *Manifest
	hooks    Hooks
	pctx     *Context
	closer   func() error
}

func (m *Manager) doUpdate(ctx context.Context, inst *Instance, newManifest *Manifest) error {
	prior := inst.State()
	if prior != StateEnabled {
		return &TransitionError{PluginID: inst.ID(), From: prior, Transition: TransitionUpdate}
	}

	inst.mu.RLock()
	oldCloser := inst.closer
	inst.mu.RUnlock()

	prev := updateSnapshot{
		manifest: inst.Manifest(),
		hooks:    inst.hookSet(),
		pctx:     inst.Context(),
		closer:   oldCloser,
	}
	return m.applyUpdate(ctx, inst, newManifest, prev, prior)
}

// applyUpdate swaps the instance onto the new manifest and runs OnUpdate.
// Retry re-enters here with the original snapshot, so the hook is invoked
// with the same old version again.
func (m *Manager) applyUpdate(ctx context.Context, inst *Instance, newManifest *Manifest, prev updateSnapshot, prior State) error {
	oldVersion := prev.manifest.Version
	inst.setState(StateUpdating)

	// Resolve the new entry point before touching the running instance. On a
	// retry the instance holds the closed entry of the failed attempt, so
	// resolution cannot rely on it.
	newHooks, newCloser, err := m.resolveHooks(newManifest, prev.pctx.events)
	if err != nil {
		inst.swap(prev.manifest, prev.hooks, prev.pctx, prev.closer)
		inst.setState(StateEnabled)
		return fmt.Errorf("update %q: %w", inst.ID(), err)
	}

	newCtx := m.buildContext(newManifest, prev.pctx.events)
	m.seedMissingDefaults(newManifest)

	inst.swap(newManifest, newHooks, newCtx, newCloser)

	start := time.Now()
	hookErr := m.runHook(ctx, inst, func(hctx context.Context) error {
		if newHooks.OnUpdate == nil {
			return nil
		}
		return newHooks.OnUpdate(hctx, inst.Context(), oldVersion)
	})
	m.metrics.RecordTransition(ctx, string(TransitionUpdate), time.Since(start), hookErr)

	if hookErr != nil {
		if newCloser != nil {
			_ = newCloser()
		}

		wrapped := &HookError{
			PluginID:   inst.ID(),
			Transition: TransitionUpdate,
			PriorState: prior,
			Err:        hookErr,
		}

		if m.entryResolvable(prev.manifest) {
			inst.swap(prev.manifest, prev.hooks, prev.pctx, prev.closer)
			inst.setState(StateEnabled)
			m.logger.Warn("update failed, rolled back",
				slog.String("plugin_id", inst.ID()),
				slog.String("version", oldVersion),
				slog.Any("error", hookErr))
		} else {
			inst.setState(StateError)
			inst.recordFailure(TransitionUpdate, func(rctx context.Context) error {
				return m.applyUpdate(rctx, inst, newManifest, prev, prior)
			})
			m.broadcast(ctx, TopicPluginError, inst, TransitionUpdate, wrapped)
		}
		return wrapped
	}

	if prev.closer != nil {
		_ = prev.closer()
	}
	inst.setState(StateEnabled)
	inst.clearFailure()
	m.validator.Declare(inst.ID(), newManifest.HasPaidFeatures())
	m.broadcast(ctx, TopicUpdated, inst, TransitionUpdate, nil)
	return nil
}

// ApplyConfig replaces the plugin's settings by dot path and invokes
// OnConfigChange with the previous snapshot. When the hook fails the
// document is restored and the change rejected.
func (m *Manager) ApplyConfig(ctx context.Context, id string, updates map[string]any) error {
	inst, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := inst.begin(TransitionConfig); err != nil {
		return err
	}
	defer inst.end()

	oldSnapshot := m.settings.Snapshot(id)
	oldDoc := m.settings.Document(id)

	for path, value := range updates {
		if err := m.settings.Set(id, path, value); err != nil {
			m.restoreSettings(id, oldDoc)
			return fmt.Errorf("apply config %q: %w", id, err)
		}
	}

	start := time.Now()
	hookErr := m.runHook(ctx, inst, func(hctx context.Context) error {
		hooks := inst.hookSet()
		if hooks.OnConfigChange == nil {
			return nil
		}
		return hooks.OnConfigChange(hctx, inst.Context(), oldSnapshot)
	})
	m.metrics.RecordTransition(ctx, string(TransitionConfig), time.Since(start), hookErr)

	if hookErr != nil {
		m.restoreSettings(id, oldDoc)
		return &HookError{
			PluginID:   inst.ID(),
			Transition: TransitionConfig,
			PriorState: inst.State(),
			Err:        hookErr,
		}
	}

	_ = m.bus.Emit(ctx, TopicConfigChanged, ConfigChangedEvent{
		PluginID: id,
		Settings: m.settings.Snapshot(id),
	})
	return nil
}

func (m *Manager) restoreSettings(id string, doc []byte) {
	if doc == nil {
		m.settings.Remove(id)
		return
	}
	m.settings.SetDocument(id, doc)
}

// Retry re-attempts the recorded failed transition with its original
// arguments.
func (m *Manager) Retry(ctx context.Context, id string) error {
	inst, err := m.Get(id)
	if err != nil {
		return err
	}

	ft := inst.failedTransition()
	if ft == nil {
		return fmt.Errorf("plugin %q: %w", id, ErrNothingToRetry)
	}

	if err := inst.begin(ft.transition); err != nil {
		return err
	}
	defer inst.end()

	return ft.run(ctx)
}

// buildInstance assembles a new instance for a freshly validated manifest.
// Caller holds the manager lock.
func (m *Manager) buildInstance(manifest *Manifest) (*Instance, error) {
	ns := m.bus.Namespace(topic.Topic(manifest.ID))

	hooks, closer, err := m.resolveHooks(manifest, ns)
	if err != nil {
		return nil, err
	}

	if err := m.settings.Init(manifest.ID, manifest.ConfigDefaults()); err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	m.validator.Declare(manifest.ID, manifest.HasPaidFeatures())

	inst := &Instance{
		manifest:    manifest,
		hooks:       hooks,
		closer:      closer,
		installedAt: time.Now(),
	}
	inst.pctx = m.buildContext(manifest, ns)
	inst.setState(StateUninstalled)
	return inst, nil
}

// buildContext assembles the facade hooks receive.
func (m *Manager) buildContext(manifest *Manifest, ns *event.Namespace) *Context {
	return &Context{
		manifest: manifest,
		settings: m.settings,
		storage:  &Storage{store: m.store, namespace: manifest.ID},
		events:   ns,
		coord:    m.coord,
		web:      newWebClient(manifest),
		timers:   newTimerSet(),
		userID:   m.userID,
		logger:   m.logger.With(slog.String("plugin_id", manifest.ID)),
	}
}

// resolveHooks maps the manifest entry point onto a hook set: a native
// factory by name, or a Lua script bridged through the adapter.
func (m *Manager) resolveHooks(manifest *Manifest, ns *event.Namespace) (Hooks, func() error, error) {
	if manifest.Native != "" {
		factory, ok := m.natives.Lookup(manifest.Native)
		if !ok {
			return Hooks{}, nil, fmt.Errorf("%w: native %q", ErrNoEntryPoint, manifest.Native)
		}
		hooks, err := factory(manifest)
		if err != nil {
			return Hooks{}, nil, fmt.Errorf("native factory %q: %w", manifest.Native, err)
		}
		return hooks, nil, nil
	}

	adapter, err := lua.New(manifest.MainPath(), lua.Options{
		Permissions: permissionStrings(manifest.Permissions),
		Events:      ns,
		Logger:      m.logger.With(slog.String("plugin_id", manifest.ID)),
	})
	if err != nil {
		return Hooks{}, nil, fmt.Errorf("%w: %v", ErrNoEntryPoint, err)
	}

	return luaHooks(adapter), adapter.Close, nil
}

// luaHooks bridges defined script globals into the hook set.
func luaHooks(adapter *lua.Adapter) Hooks {
	var hooks Hooks
	if adapter.Has(lua.HookInstall) {
		hooks.OnInstall = func(ctx context.Context, _ *Context) error {
			return adapter.Call(ctx, lua.HookInstall)
		}
	}
	if adapter.Has(lua.HookEnable) {
		hooks.OnEnable = func(ctx context.Context, _ *Context) error {
			return adapter.Call(ctx, lua.HookEnable)
		}
	}
	if adapter.Has(lua.HookDisable) {
		hooks.OnDisable = func(ctx context.Context, _ *Context) error {
			return adapter.Call(ctx, lua.HookDisable)
		}
	}
	if adapter.Has(lua.HookUninstall) {
		hooks.OnUninstall = func(ctx context.Context, _ *Context) error {
			return adapter.Call(ctx, lua.HookUninstall)
		}
	}
	if adapter.Has(lua.HookUpdate) {
		hooks.OnUpdate = func(ctx context.Context, _ *Context, oldVersion string) error {
			return adapter.Call(ctx, lua.HookUpdate, oldVersion)
		}
	}
	if adapter.Has(lua.HookConfigChange) {
		hooks.OnConfigChange = func(ctx context.Context, _ *Context, oldConfig map[string]any) error {
			return adapter.Call(ctx, lua.HookConfigChange, oldConfig)
		}
	}
	return hooks
}

func permissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// entryResolvable reports whether the manifest's entry point can still be
// loaded, used to decide between rollback and Error on a failed update.
func (m *Manager) entryResolvable(manifest *Manifest) bool {
	if manifest.Native != "" {
		return m.natives.Has(manifest.Native)
	}
	_, err := os.Stat(manifest.MainPath())
	return err == nil
}

// seedMissingDefaults adds schema defaults introduced by a new manifest
// without clobbering existing values.
func (m *Manager) seedMissingDefaults(manifest *Manifest) {
	for path, value := range manifest.ConfigDefaults() {
		if _, exists := m.settings.Get(manifest.ID, path); !exists {
			_ = m.settings.Set(manifest.ID, path, value)
		}
	}
}

// runHook invokes one hook with panic recovery and the manager's timeout.
func (m *Manager) runHook(ctx context.Context, inst *Instance, fn func(ctx context.Context) error) error {
	hctx := ctx
	if m.hookTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, m.hookTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("lifecycle hook panic recovered",
					slog.String("plugin_id", inst.ID()),
					slog.Any("panic", r))
				done <- fmt.Errorf("hook panic: %v", r)
			}
		}()
		done <- fn(hctx)
	}()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		return fmt.Errorf("hook: %w", hctx.Err())
	}
}

// broadcast emits a platform lifecycle event on the root bus. Broadcast
// failures are argument errors only and never affect the transition.
func (m *Manager) broadcast(ctx context.Context, t topic.Topic, inst *Instance, transition Transition, cause error) {
	evt := LifecycleEvent{
		PluginID:   inst.ID(),
		Version:    inst.Version(),
		State:      inst.State().String(),
		Transition: string(transition),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	_ = m.bus.Emit(ctx, t, evt)
}
