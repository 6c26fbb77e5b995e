package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func licenseService(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_FetchVerifiedRecord(t *testing.T) {
	want := signedRecord(t, "com.example.pro", "user-1",
		[]string{"export"}, time.Now().Add(time.Hour).Truncate(time.Second))

	srv := licenseService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/validate-license", r.URL.Path)

		var req validateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-1", req.UserID)
		assert.Equal(t, "com.example.pro", req.PluginID)

		json.NewEncoder(w).Encode(want)
	})

	c := NewHTTPClient(srv.URL, testSecret, nil)
	got, err := c.Fetch(context.Background(), "user-1", "com.example.pro")
	require.NoError(t, err)
	assert.Equal(t, want.PluginID, got.PluginID)
	assert.Equal(t, want.FeatureSet, got.FeatureSet)
}

func TestHTTPClient_RejectsTamperedRecord(t *testing.T) {
	record := signedRecord(t, "com.example.pro", "user-1",
		[]string{"export"}, time.Now().Add(time.Hour))
	record.FeatureSet = append(record.FeatureSet, "admin")

	srv := licenseService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(record)
	})

	c := NewHTTPClient(srv.URL, testSecret, nil)
	_, err := c.Fetch(context.Background(), "user-1", "com.example.pro")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	record := signedRecord(t, "com.example.pro", "user-1",
		[]string{"export"}, time.Now().Add(time.Hour))

	var hits atomic.Int64
	srv := licenseService(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(record)
	})

	c := NewHTTPClient(srv.URL, testSecret, nil)
	got, err := c.Fetch(context.Background(), "user-1", "com.example.pro")
	require.NoError(t, err)
	assert.Equal(t, "com.example.pro", got.PluginID)
	assert.Equal(t, int64(3), hits.Load())
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := licenseService(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	c := NewHTTPClient(srv.URL, testSecret, nil)
	_, err := c.Fetch(context.Background(), "user-1", "com.example.pro")
	require.Error(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestHTTPClient_ContextCancelDuringBackoff(t *testing.T) {
	srv := licenseService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(srv.URL, testSecret, nil)
	_, err := c.Fetch(ctx, "user-1", "com.example.pro")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
