package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/gantryio/gantry/internal/event"
	"github.com/gantryio/gantry/internal/event/topic"
)

// Hook globals a script may define.
const (
	HookInstall      = "on_install"
	HookEnable       = "on_enable"
	HookDisable      = "on_disable"
	HookUninstall    = "on_uninstall"
	HookUpdate       = "on_update"
	HookConfigChange = "on_config_change"
)

// ErrClosed is returned when calling into a closed adapter.
var ErrClosed = errors.New("lua adapter closed")

// Options configures an Adapter.
type Options struct {
	// Permissions granted by the manifest, as plain strings.
	Permissions []string

	// Events is the plugin's scoped bus facade backing the gantry module.
	Events *event.Namespace

	// Logger receives gantry.log output and handler faults.
	Logger *slog.Logger
}

// Adapter owns one sandboxed Lua state for a script plugin. All entry into
// the state is serialized by a single mutex: hook calls from the manager and
// event deliveries from the bus never interleave.
type Adapter struct {
	mu     sync.Mutex
	L      *lua.LState
	bridge *Bridge
	events *event.Namespace
	logger *slog.Logger
	closed bool

	// subs maps the integer IDs handed to scripts onto live subscriptions.
	subs    map[int]*event.Subscription
	nextSub int
}

// New creates a sandboxed state, installs the gantry module, and executes
// the script so its hook globals are defined.
func New(scriptPath string, opts Options) (*Adapter, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	L := lua.NewState(lua.Options{
		CallStackSize: 120,
		RegistrySize:  1024 * 20,
	})

	a := &Adapter{
		L:      L,
		bridge: NewBridge(L),
		events: opts.Events,
		logger: opts.Logger,
		subs:   make(map[int]*event.Subscription),
	}

	NewSandbox(L, opts.Permissions).Install()

	// One module table, reachable both as the gantry global and through
	// require("gantry").
	mod := a.gantryModule(L)
	L.SetGlobal("gantry", mod)
	L.PreloadModule("gantry", func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})

	if err := L.DoFile(scriptPath); err != nil {
		L.Close()
		return nil, fmt.Errorf("execute plugin script: %w", err)
	}
	return a, nil
}

// Has reports whether the script defines the hook global.
func (a *Adapter) Has(hook string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	_, ok := a.L.GetGlobal(hook).(*lua.LFunction)
	return ok
}

// Call invokes the hook global with the given arguments. A Lua error becomes
// a Go error; the context cancels long-running scripts.
func (a *Adapter) Call(ctx context.Context, hook string, args ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	fn, ok := a.L.GetGlobal(hook).(*lua.LFunction)
	if !ok {
		return nil
	}

	a.L.SetContext(ctx)
	defer a.L.RemoveContext()

	lvArgs := make([]lua.LValue, len(args))
	for i, arg := range args {
		lvArgs[i] = a.bridge.ToLuaValue(arg)
	}

	if err := a.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lvArgs...); err != nil {
		return fmt.Errorf("lua hook %s: %w", hook, err)
	}
	return nil
}

// Close drains the script's subscriptions and releases the Lua state.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	for id, sub := range a.subs {
		if a.events != nil {
			_ = a.events.Unsubscribe(sub)
		}
		delete(a.subs, id)
	}

	a.L.Close()
	return nil
}

// gantryModule builds the host API table handed to scripts.
func (a *Adapter) gantryModule(L *lua.LState) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"emit": a.luaEmit,
		"on":   a.luaOn,
		"once": a.luaOnce,
		"off":  a.luaOff,
		"log":  a.luaLog,
	})
}

// luaEmit publishes through the async queue. Synchronous delivery would
// re-enter the state the emitting script still holds.
func (a *Adapter) luaEmit(L *lua.LState) int {
	t := L.CheckString(1)
	var payload any
	if L.GetTop() >= 2 {
		payload = a.bridge.ToGoValue(L.Get(2))
	}

	if a.events == nil {
		L.Push(lua.LFalse)
		return 1
	}
	if err := a.events.EmitAsync(context.Background(), topic.Topic(t), payload); err != nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

func (a *Adapter) luaOn(L *lua.LState) int {
	return a.subscribe(L, false)
}

func (a *Adapter) luaOnce(L *lua.LState) int {
	return a.subscribe(L, true)
}

func (a *Adapter) subscribe(L *lua.LState, once bool) int {
	t := L.CheckString(1)
	fn := L.CheckFunction(2)

	if a.events == nil {
		L.Push(lua.LNumber(0))
		return 1
	}

	handler := event.HandlerFunc(func(_ context.Context, evt event.Envelope) error {
		return a.invokeScriptHandler(fn, evt)
	})

	var sub *event.Subscription
	var err error
	if once {
		sub, err = a.events.Once(topic.Topic(t), handler)
	} else {
		sub, err = a.events.Subscribe(topic.Topic(t), handler)
	}
	if err != nil {
		L.RaiseError("subscribe %q: %v", t, err)
		return 0
	}

	// Registration happens during script execution, so the mutex is
	// already held by this goroutine.
	a.nextSub++
	id := a.nextSub
	a.subs[id] = sub

	L.Push(lua.LNumber(id))
	return 1
}

// invokeScriptHandler delivers one event into the script. Deliveries come in
// on bus worker goroutines and take the state mutex like any other entry.
func (a *Adapter) invokeScriptHandler(fn *lua.LFunction, evt event.Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	err := a.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
		a.bridge.ToLuaValue(evt.Payload),
		lua.LString(evt.Topic.String()),
	)
	if err != nil {
		a.logger.Error("lua event handler failed",
			slog.String("topic", evt.Topic.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (a *Adapter) luaOff(L *lua.LState) int {
	id := int(L.CheckNumber(1))

	sub, ok := a.subs[id]
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}
	delete(a.subs, id)
	if a.events != nil {
		_ = a.events.Unsubscribe(sub)
	}
	L.Push(lua.LTrue)
	return 1
}

func (a *Adapter) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	a.logger.Info(msg, slog.String("source", "lua"))
	return 0
}
