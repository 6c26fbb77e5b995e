package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/internal/event"
	"github.com/gantryio/gantry/internal/event/topic"
	"github.com/gantryio/gantry/internal/storage"
)

// Context is the facade handed to lifecycle hooks. Everything a plugin can
// touch goes through it: its settings, its storage namespace, its scoped view
// of the bus, the request/response coordinator, and outbound HTTP when the
// manifest allows it.
type Context struct {
	manifest *Manifest
	settings *config.SettingsStore
	storage  *Storage
	events   *event.Namespace
	coord    *event.Coordinator
	web      *WebClient
	timers   *timerSet
	userID   string
	logger   *slog.Logger
}

// ID returns the plugin's manifest ID.
func (pc *Context) ID() string {
	return pc.manifest.ID
}

// Version returns the plugin's manifest version.
func (pc *Context) Version() string {
	return pc.manifest.Version
}

// Manifest returns a copy of the manifest; mutating it has no effect.
func (pc *Context) Manifest() *Manifest {
	return pc.manifest.Clone()
}

// Settings returns a snapshot of the plugin's current settings document.
func (pc *Context) Settings() map[string]any {
	return pc.settings.Snapshot(pc.manifest.ID)
}

// Setting reads one settings value by dot path.
func (pc *Context) Setting(path string) (any, bool) {
	return pc.settings.Get(pc.manifest.ID, path)
}

// Storage returns the plugin's namespaced key-value store.
func (pc *Context) Storage() *Storage {
	return pc.storage
}

// Events returns the plugin's scoped view of the bus.
func (pc *Context) Events() *event.Namespace {
	return pc.events
}

// Request issues a correlated request on the shared coordinator.
func (pc *Context) Request(ctx context.Context, t topic.Topic, payload any, timeout time.Duration) (any, error) {
	return pc.coord.Request(ctx, t, payload, timeout)
}

// HTTP returns the outbound HTTP facade. Calls fail with
// ErrPermissionDenied unless the manifest declares the network permission.
func (pc *Context) HTTP() *WebClient {
	return pc.web
}

// UserID returns the host user's identity, empty when the host runs
// anonymously.
func (pc *Context) UserID() string {
	return pc.userID
}

// Logger returns a logger tagged with the plugin ID.
func (pc *Context) Logger() *slog.Logger {
	return pc.logger
}

// After schedules fn on the plugin's timer set. The instance owns the timer:
// disable and uninstall cancel anything still pending.
func (pc *Context) After(d time.Duration, fn func()) *Timer {
	return pc.timers.after(d, fn)
}

// Storage is a namespaced view over the host's key-value store. The plugin
// only ever sees its own namespace.
type Storage struct {
	store     storage.Store
	namespace string
}

// Get returns the value stored under key.
func (s *Storage) Get(key string) ([]byte, error) {
	return s.store.Get(s.namespace, key)
}

// Set stores value under key, overwriting any previous value.
func (s *Storage) Set(key string, value []byte) error {
	return s.store.Set(s.namespace, key, value)
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Storage) Delete(key string) error {
	return s.store.Delete(s.namespace, key)
}

// Clear removes every key in the plugin's namespace.
func (s *Storage) Clear() error {
	return s.store.Clear(s.namespace)
}

// Keys lists the plugin's keys, sorted.
func (s *Storage) Keys() ([]string, error) {
	return s.store.Keys(s.namespace)
}

// Has reports whether key exists.
func (s *Storage) Has(key string) (bool, error) {
	return s.store.Has(s.namespace, key)
}

// Size returns the number of keys in the plugin's namespace.
func (s *Storage) Size() (int, error) {
	return s.store.Size(s.namespace)
}

// Timer is a handle to one scheduled callback.
type Timer struct {
	id    uint64
	owner *timerSet
}

// Stop cancels the timer if it has not fired. Stopping a fired or stopped
// timer is a no-op.
func (t *Timer) Stop() {
	t.owner.cancel(t.id)
}

// timerSet tracks every timer a plugin instance schedules so teardown can
// cancel them all.
type timerSet struct {
	mu     sync.Mutex
	timers map[uint64]*time.Timer
	next   uint64
	closed bool
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[uint64]*time.Timer)}
}

func (ts *timerSet) after(d time.Duration, fn func()) *Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.next++
	id := ts.next

	if ts.closed {
		// Instance already torn down: hand back an inert handle.
		return &Timer{id: id, owner: ts}
	}

	ts.timers[id] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		_, live := ts.timers[id]
		delete(ts.timers, id)
		ts.mu.Unlock()
		if live {
			fn()
		}
	})
	return &Timer{id: id, owner: ts}
}

func (ts *timerSet) cancel(id uint64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.timers[id]; ok {
		t.Stop()
		delete(ts.timers, id)
	}
}

// purge cancels every pending timer. Called on disable; the set stays usable
// for a later re-enable.
func (ts *timerSet) purge() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	n := len(ts.timers)
	for id, t := range ts.timers {
		t.Stop()
		delete(ts.timers, id)
	}
	return n
}

// close purges and marks the set dead. Called on uninstall.
func (ts *timerSet) close() {
	ts.mu.Lock()
	ts.closed = true
	ts.mu.Unlock()
	ts.purge()
}

func (ts *timerSet) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}
