package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultWebTimeout bounds plugin-initiated HTTP calls.
const defaultWebTimeout = 30 * time.Second

// WebClient is the outbound HTTP facade handed to plugins. Every call checks
// the network permission: a plugin whose manifest does not declare it gets
// ErrPermissionDenied, never a connection.
type WebClient struct {
	pluginID string
	allowed  bool
	client   *http.Client
}

// newWebClient builds the facade for a plugin. The permission is captured at
// install time from the manifest.
func newWebClient(m *Manifest) *WebClient {
	return &WebClient{
		pluginID: m.ID,
		allowed:  m.HasPermission(PermissionNetwork),
		client:   &http.Client{Timeout: defaultWebTimeout},
	}
}

// Allowed reports whether the plugin may make network calls.
func (w *WebClient) Allowed() bool {
	return w.allowed
}

// Do executes a prepared request after the permission check.
func (w *WebClient) Do(req *http.Request) (*http.Response, error) {
	if !w.allowed {
		return nil, fmt.Errorf("plugin %q network call: %w", w.pluginID, ErrPermissionDenied)
	}
	return w.client.Do(req)
}

// Get issues a GET request.
func (w *WebClient) Get(ctx context.Context, url string) (*http.Response, error) {
	return w.roundTrip(ctx, http.MethodGet, url, "", nil)
}

// Post issues a POST request with the given body.
func (w *WebClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return w.roundTrip(ctx, http.MethodPost, url, contentType, body)
}

// Put issues a PUT request with the given body.
func (w *WebClient) Put(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return w.roundTrip(ctx, http.MethodPut, url, contentType, body)
}

// Patch issues a PATCH request with the given body.
func (w *WebClient) Patch(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return w.roundTrip(ctx, http.MethodPatch, url, contentType, body)
}

// Delete issues a DELETE request.
func (w *WebClient) Delete(ctx context.Context, url string) (*http.Response, error) {
	return w.roundTrip(ctx, http.MethodDelete, url, "", nil)
}

func (w *WebClient) roundTrip(ctx context.Context, method, url, contentType string, body io.Reader) (*http.Response, error) {
	if !w.allowed {
		return nil, fmt.Errorf("plugin %q network call: %w", w.pluginID, ErrPermissionDenied)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return w.client.Do(req)
}
