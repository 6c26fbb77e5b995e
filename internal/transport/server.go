package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/gantryio/gantry/internal/event"
	"github.com/gantryio/gantry/internal/license"
	"github.com/gantryio/gantry/internal/logging"
	"github.com/gantryio/gantry/internal/plugin"
)

// Server exposes the admin API: plugin lifecycle control, license status,
// and the websocket event stream.
type Server struct {
	mgr       *plugin.Manager
	validator *license.Validator
	hub       *Hub
	logger    *slog.Logger
}

// NewServer creates the admin API server.
func NewServer(mgr *plugin.Manager, validator *license.Validator, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mgr:       mgr,
		validator: validator,
		hub:       hub,
		logger:    logger.With(slog.String("component", "transport.http")),
	}
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traceMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/plugins", s.handleListPlugins)
		r.Route("/plugins/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPlugin)
			r.Post("/enable", s.handleEnable)
			r.Post("/disable", s.handleDisable)
			r.Post("/retry", s.handleRetry)
			r.Patch("/config", s.handleConfig)
			r.Delete("/", s.handleUninstall)
		})
		r.Get("/license/status", s.handleLicenseStatus)
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}
	return r
}

// traceMiddleware attaches a trace ID so every log line of a request is
// correlatable.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.EnsureTraceID(r.Context())
		w.Header().Set("X-Trace-ID", logging.TraceID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PluginView is the wire shape of one plugin instance.
type PluginView struct {
	ID          string           `json:"id"`
	Version     string           `json:"version"`
	DisplayName string           `json:"displayName,omitempty"`
	State       string           `json:"state"`
	Features    []plugin.Feature `json:"features,omitempty"`
	InstalledAt time.Time        `json:"installedAt"`
}

func viewOf(inst *plugin.Instance) PluginView {
	m := inst.Manifest()
	return PluginView{
		ID:          m.ID,
		Version:     m.Version,
		DisplayName: m.DisplayName,
		State:       inst.State().String(),
		Features:    m.Features,
		InstalledAt: inst.InstalledAt(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	instances := s.mgr.List()
	views := make([]PluginView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, viewOf(inst))
	}
	render.JSON(w, r, views)
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	inst, err := s.mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, viewOf(inst))
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Enable(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, r, id)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Disable(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, r, id)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Retry(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, r, id)
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Uninstall(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusNoContent)
	render.NoContent(w, r)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorBody("invalid JSON body"))
		return
	}

	if err := s.mgr.ApplyConfig(r.Context(), id, updates); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, r, id)
}

// LicenseStatus is the wire shape of GET /api/license/status.
type LicenseStatus struct {
	PluginID string `json:"pluginId"`
	State    string `json:"state"`
	Paid     bool   `json:"paid"`
}

func (s *Server) handleLicenseStatus(w http.ResponseWriter, r *http.Request) {
	instances := s.mgr.List()
	statuses := make([]LicenseStatus, 0, len(instances))
	for _, inst := range instances {
		statuses = append(statuses, LicenseStatus{
			PluginID: inst.ID(),
			State:    inst.State().String(),
			Paid:     s.validator.IsPaid(inst.ID()),
		})
	}
	render.JSON(w, r, statuses)
}

func (s *Server) writeState(w http.ResponseWriter, r *http.Request, id string) {
	render.JSON(w, r, map[string]string{
		"id":    id,
		"state": s.mgr.State(id).String(),
	})
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, plugin.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, plugin.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, plugin.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, plugin.ErrAlreadyInstalled):
		status = http.StatusConflict
	case errors.Is(err, plugin.ErrNothingToRetry):
		status = http.StatusConflict
	case errors.Is(err, license.ErrFeatureDenied):
		status = http.StatusPaymentRequired
	case errors.Is(err, license.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, event.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, plugin.ErrHookFailed):
		status = http.StatusInternalServerError
	case errors.Is(err, plugin.ErrNilManifest), errors.Is(err, event.ErrInvalidTopic):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}

	render.Status(r, status)
	render.JSON(w, r, errorBody(err.Error()))
}
