// Package app assembles the host: configuration, logging, storage, the
// event bus, license validation, the plugin manager, and the admin API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/internal/event"
	"github.com/gantryio/gantry/internal/event/topic"
	"github.com/gantryio/gantry/internal/license"
	"github.com/gantryio/gantry/internal/logging"
	"github.com/gantryio/gantry/internal/observability"
	"github.com/gantryio/gantry/internal/plugin"
	"github.com/gantryio/gantry/internal/storage"
	"github.com/gantryio/gantry/internal/transport"
)

// Platform topics emitted by the app itself.
const (
	topicStartup  topic.Topic = "system.startup"
	topicShutdown topic.Topic = "system.shutdown"
)

// StartupEvent is the system.startup payload.
type StartupEvent struct {
	Plugins int    `json:"plugins"`
	Addr    string `json:"addr"`
}

// App owns every long-lived component of the host process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	bus       *event.Bus
	coord     *event.Coordinator
	store     storage.Store
	validator *license.Validator
	mgr       *plugin.Manager
	hub       *transport.Hub
	httpSrv   *http.Server
}

// New wires the host from its configuration. Nothing is serving yet; call
// Run to start.
func New(cfg *config.Config) (*App, error) {
	logger := logging.Init(cfg.Logging)
	metrics := observability.NewMetricsRecorder()

	bus := event.New(
		event.WithLogger(logger),
		event.WithMetrics(metrics),
	)
	if err := bus.Start(); err != nil {
		return nil, fmt.Errorf("start event bus: %w", err)
	}

	coord, err := event.NewCoordinator(bus, logger)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var remote license.RemoteClient
	if cfg.License.Endpoint != "" {
		remote = license.NewHTTPClient(cfg.License.Endpoint, []byte(cfg.License.Secret), logger)
	}
	validator := license.NewValidator(remote, logger,
		license.WithCache(license.NewCache(cfg.License.CacheTTL, cfg.License.GracePeriod)),
		license.WithMetrics(metrics),
	)

	settings := config.NewSettingsStore()
	mgr := plugin.NewManager(bus, coord, store, settings, validator, logger,
		plugin.WithHookTimeout(cfg.Plugins.HookTimeout),
		plugin.WithUserID(cfg.License.UserID),
		plugin.WithMetrics(metrics),
	)

	hub := transport.NewHub(bus, logger)
	server := transport.NewServer(mgr, validator, hub, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		coord:     coord,
		store:     store,
		validator: validator,
		mgr:       mgr,
		hub:       hub,
		httpSrv: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      server.Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return storage.NewSQLiteStore(cfg.Path)
	default:
		return storage.NewMemoryStore(), nil
	}
}

// Manager exposes the plugin manager, mainly for embedding and tests.
func (a *App) Manager() *plugin.Manager {
	return a.mgr
}

// Bus exposes the event bus.
func (a *App) Bus() *event.Bus {
	return a.bus
}

// Run discovers and installs plugins, starts the admin API, and blocks until
// the context is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	installed := a.loadPlugins(ctx)

	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("start websocket hub: %w", err)
	}

	_ = a.bus.Emit(ctx, topicStartup, StartupEvent{
		Plugins: installed,
		Addr:    a.cfg.Server.Addr(),
	})
	a.logger.Info("host started",
		slog.String("addr", a.cfg.Server.Addr()),
		slog.Int("plugins", installed))

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return fmt.Errorf("admin api: %w", err)
	}
}

// loadPlugins discovers manifests on the configured paths, installs them,
// and enables them when auto-enable is on. A failing plugin is logged and
// skipped, never fatal.
func (a *App) loadPlugins(ctx context.Context) int {
	loader := plugin.NewLoader(a.cfg.Plugins.Paths, a.logger)

	installed := 0
	for _, manifest := range loader.Discover() {
		if err := a.mgr.Install(ctx, manifest); err != nil {
			a.logger.Error("plugin install failed",
				slog.String("plugin_id", manifest.ID),
				slog.Any("error", err))
			continue
		}
		installed++

		if !a.cfg.Plugins.AutoEnable {
			continue
		}
		if err := a.mgr.Enable(ctx, manifest.ID); err != nil {
			a.logger.Error("plugin enable failed",
				slog.String("plugin_id", manifest.ID),
				slog.Any("error", err))
		}
	}
	return installed
}

// shutdown tears the host down in reverse dependency order: stop accepting
// requests, disable plugins so their hooks still see a live bus, then stop
// the bus and close the stores.
func (a *App) shutdown() {
	a.logger.Info("host shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		a.logger.Warn("admin api shutdown", slog.Any("error", err))
	}

	_ = a.bus.Emit(ctx, topicShutdown, struct{}{})

	// Reverse of startup order, so later plugins can still reach earlier ones
	// from their disable hooks.
	instances := a.mgr.List()
	for i := len(instances) - 1; i >= 0; i-- {
		inst := instances[i]
		if inst.State() != plugin.StateEnabled {
			continue
		}
		if err := a.mgr.Disable(ctx, inst.ID()); err != nil {
			a.logger.Warn("plugin disable during shutdown",
				slog.String("plugin_id", inst.ID()),
				slog.Any("error", err))
		}
	}

	a.hub.Stop()
	a.coord.Close()
	a.validator.Close()

	if err := a.bus.Stop(ctx); err != nil {
		a.logger.Warn("event bus stop", slog.Any("error", err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("storage close", slog.Any("error", err))
	}

	a.logger.Info("host stopped")
}
