package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryio/gantry/internal/config"
	"github.com/gantryio/gantry/internal/event"
	"github.com/gantryio/gantry/internal/license"
	"github.com/gantryio/gantry/internal/plugin"
	"github.com/gantryio/gantry/internal/storage"
)

type stubLicenseClient struct {
	mu       sync.Mutex
	features []string
	err      error
}

func (c *stubLicenseClient) Fetch(_ context.Context, userID, pluginID string) (*license.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &license.Record{
		PluginID:   pluginID,
		UserID:     userID,
		FeatureSet: c.features,
		ExpiresAt:  time.Now().Add(time.Hour),
	}, nil
}

type apiHarness struct {
	bus       *event.Bus
	mgr       *plugin.Manager
	validator *license.Validator
	licClient *stubLicenseClient
	hub       *Hub
	srv       *httptest.Server
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	bus := event.New()
	coord, err := event.NewCoordinator(bus, nil)
	require.NoError(t, err)

	licClient := &stubLicenseClient{}
	validator := license.NewValidator(licClient, nil)
	store := storage.NewMemoryStore()
	settings := config.NewSettingsStore()
	mgr := plugin.NewManager(bus, coord, store, settings, validator, nil, plugin.WithUserID("user-1"))

	hub := NewHub(bus, nil)
	require.NoError(t, hub.Start())

	server := NewServer(mgr, validator, hub, nil)
	ts := httptest.NewServer(server.Router())

	t.Cleanup(func() {
		ts.Close()
		hub.Stop()
		coord.Close()
		validator.Close()
		store.Close()
	})

	return &apiHarness{
		bus:       bus,
		mgr:       mgr,
		validator: validator,
		licClient: licClient,
		hub:       hub,
		srv:       ts,
	}
}

func (h *apiHarness) installNative(t *testing.T, id string, hooks plugin.Hooks) {
	t.Helper()
	factory := "factory-" + id
	require.NoError(t, h.mgr.Natives().Register(factory, func(*plugin.Manifest) (plugin.Hooks, error) {
		return hooks, nil
	}))
	require.NoError(t, h.mgr.Install(context.Background(), &plugin.Manifest{
		ID:      id,
		Version: "1.0.0",
		Native:  factory,
	}))
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	body := decodeJSON[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestListPlugins(t *testing.T) {
	h := newAPIHarness(t)
	h.installNative(t, "com.example.fmt", plugin.Hooks{})
	h.installNative(t, "com.example.lint", plugin.Hooks{})

	resp := h.do(t, http.MethodGet, "/api/plugins", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	views := decodeJSON[[]PluginView](t, resp)
	require.Len(t, views, 2)
	ids := []string{views[0].ID, views[1].ID}
	assert.Contains(t, ids, "com.example.fmt")
	assert.Contains(t, ids, "com.example.lint")
	assert.Equal(t, "installed", views[0].State)
}

func TestEnableDisableOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	h.installNative(t, "com.example.fmt", plugin.Hooks{})

	resp := h.do(t, http.MethodPost, "/api/plugins/com.example.fmt/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]string](t, resp)
	assert.Equal(t, "enabled", body["state"])

	resp = h.do(t, http.MethodPost, "/api/plugins/com.example.fmt/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, plugin.StateDisabled, h.mgr.State("com.example.fmt"))
}

func TestUnknownPluginIs404(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/api/plugins/com.example.ghost/enable", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvalidTransitionIs409(t *testing.T) {
	h := newAPIHarness(t)
	h.installNative(t, "com.example.fmt", plugin.Hooks{})

	// Installed, never enabled: disable is not a legal transition.
	resp := h.do(t, http.MethodPost, "/api/plugins/com.example.fmt/disable", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLicenseDenialIs402(t *testing.T) {
	h := newAPIHarness(t)
	factory := "paid"
	require.NoError(t, h.mgr.Natives().Register(factory, func(*plugin.Manifest) (plugin.Hooks, error) {
		return plugin.Hooks{}, nil
	}))
	require.NoError(t, h.mgr.Install(context.Background(), &plugin.Manifest{
		ID:      "com.example.paid",
		Version: "1.0.0",
		Native:  factory,
		Features: []plugin.Feature{
			{Name: "pro-mode", Paid: true},
		},
	}))

	// The stub serves records with an empty feature set.
	resp := h.do(t, http.MethodPost, "/api/plugins/com.example.paid/enable", nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, plugin.StateInstalled, h.mgr.State("com.example.paid"))
}

func TestHookFailureIs500(t *testing.T) {
	h := newAPIHarness(t)
	h.installNative(t, "com.example.flaky", plugin.Hooks{
		OnEnable: func(context.Context, *plugin.Context) error {
			return errors.New("boom")
		},
	})

	resp := h.do(t, http.MethodPost, "/api/plugins/com.example.flaky/enable", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, plugin.StateError, h.mgr.State("com.example.flaky"))
}

func TestRetryAfterFailure(t *testing.T) {
	h := newAPIHarness(t)
	fail := true
	var mu sync.Mutex
	h.installNative(t, "com.example.flaky", plugin.Hooks{
		OnEnable: func(context.Context, *plugin.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return errors.New("boom")
			}
			return nil
		},
	})

	resp := h.do(t, http.MethodPost, "/api/plugins/com.example.flaky/enable", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	mu.Lock()
	fail = false
	mu.Unlock()

	resp = h.do(t, http.MethodPost, "/api/plugins/com.example.flaky/retry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, plugin.StateEnabled, h.mgr.State("com.example.flaky"))

	// Nothing left to retry.
	resp = h.do(t, http.MethodPost, "/api/plugins/com.example.flaky/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestApplyConfigOverHTTP(t *testing.T) {
	h := newAPIHarness(t)

	var got map[string]any
	var mu sync.Mutex
	h.installNative(t, "com.example.fmt", plugin.Hooks{
		OnConfigChange: func(_ context.Context, pctx *plugin.Context, _ map[string]any) error {
			mu.Lock()
			defer mu.Unlock()
			got = pctx.Settings()
			return nil
		},
	})
	resp := h.do(t, http.MethodPost, "/api/plugins/com.example.fmt/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodPatch, "/api/plugins/com.example.fmt/config", map[string]any{
		"editor.tabSize": 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	editor, ok := got["editor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), editor["tabSize"])
}

func TestApplyConfigBadJSONIs400(t *testing.T) {
	h := newAPIHarness(t)
	h.installNative(t, "com.example.fmt", plugin.Hooks{})

	req, err := http.NewRequest(http.MethodPatch,
		h.srv.URL+"/api/plugins/com.example.fmt/config",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUninstallOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	h.installNative(t, "com.example.fmt", plugin.Hooks{})

	resp := h.do(t, http.MethodDelete, "/api/plugins/com.example.fmt/", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := h.mgr.Get("com.example.fmt")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestLicenseStatusEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	h.installNative(t, "com.example.free", plugin.Hooks{})

	resp := h.do(t, http.MethodGet, "/api/license/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	statuses := decodeJSON[[]LicenseStatus](t, resp)
	require.Len(t, statuses, 1)
	assert.Equal(t, "com.example.free", statuses[0].PluginID)
	assert.False(t, statuses[0].Paid)
}

func TestWebsocketStreamsLifecycleEvents(t *testing.T) {
	h := newAPIHarness(t)
	h.installNative(t, "com.example.fmt", plugin.Hooks{})

	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	resp := h.do(t, http.MethodPost, "/api/plugins/com.example.fmt/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg StreamMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "plugin.enabled", msg.Topic)
}

func TestHubDropsSlowClientsWithoutBlocking(t *testing.T) {
	h := newAPIHarness(t)

	// No clients connected: broadcasting must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.hub.Broadcast(StreamMessage{Topic: "plugin.enabled", Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked with no clients attached")
	}
}
