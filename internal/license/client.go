package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultRequestTimeout bounds a single validation round trip.
	defaultRequestTimeout = 10 * time.Second

	// maxAttempts is the number of tries per Fetch, including the first.
	maxAttempts = 3

	// retryBackoff is the base delay between attempts; it doubles each try.
	retryBackoff = 500 * time.Millisecond
)

// RemoteClient fetches entitlement records from the license service.
type RemoteClient interface {
	Fetch(ctx context.Context, userID, pluginID string) (*Record, error)
}

// HTTPClient talks to the license service over HTTP. Outbound calls are
// rate limited and retried with exponential backoff; returned records are
// signature-verified before use.
type HTTPClient struct {
	baseURL string
	secret  []byte
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Compile-time interface check.
var _ RemoteClient = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the license service at baseURL. The
// secret is the shared HMAC key used to verify record signatures.
func NewHTTPClient(baseURL string, secret []byte, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: defaultRequestTimeout},
		// 10 validations/sec with small bursts is plenty for a single host.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  logger,
	}
}

type validateRequest struct {
	UserID   string `json:"userId"`
	PluginID string `json:"pluginId"`
}

// Fetch implements RemoteClient. It retries transient failures and rejects
// records whose signature does not verify.
func (c *HTTPClient) Fetch(ctx context.Context, userID, pluginID string) (*Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBackoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		record, retryable, err := c.fetchOnce(ctx, userID, pluginID)
		if err == nil {
			return record, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn("license fetch failed, retrying",
			"plugin_id", pluginID,
			"attempt", attempt+1,
			"error", err)
	}
	return nil, fmt.Errorf("fetch license after %d attempts: %w", maxAttempts, lastErr)
}

func (c *HTTPClient) fetchOnce(ctx context.Context, userID, pluginID string) (*Record, bool, error) {
	body, err := json.Marshal(validateRequest{UserID: userID, PluginID: pluginID})
	if err != nil {
		return nil, false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/validate-license", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("license service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("license service status %d", resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("license service status %d", resp.StatusCode)
	}

	var record Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, false, fmt.Errorf("decode record: %w", err)
	}
	if err := VerifySignature(c.secret, &record); err != nil {
		return nil, false, err
	}
	return &record, false, nil
}
