package license

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gantryio/gantry/internal/observability"
)

// Validator decides whether a user may activate a feature of a plugin.
//
// Plugins are opted in with Declare; a plugin never declared as paid always
// validates with zero remote calls. Paid plugins resolve through the cache,
// then the remote service, then the stale cache within the grace period.
type Validator struct {
	client  RemoteClient
	cache   *Cache
	group   singleflight.Group
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu   sync.RWMutex
	paid map[string]bool
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithCache replaces the default cache.
func WithCache(c *Cache) ValidatorOption {
	return func(v *Validator) { v.cache = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a validator backed by the given remote client. A nil
// client leaves paid validations with only the cache to answer from.
func NewValidator(client RemoteClient, logger *slog.Logger, opts ...ValidatorOption) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		client:  client,
		logger:  logger,
		metrics: observability.NoopMetrics{},
		paid:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.cache == nil {
		v.cache = NewCache(DefaultTTL, DefaultGracePeriod)
	}
	return v
}

// Declare registers whether a plugin has paid features. Undeclared plugins
// are treated as free.
func (v *Validator) Declare(pluginID string, paid bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paid[pluginID] = paid
}

// Forget removes a plugin's pricing declaration, typically on uninstall.
func (v *Validator) Forget(pluginID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.paid, pluginID)
}

// IsPaid reports whether the plugin was declared as having paid features.
func (v *Validator) IsPaid(pluginID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.paid[pluginID]
}

// Validate reports whether the user may activate the feature. A false result
// with a nil error is a plain entitlement denial; a non-nil error means the
// answer could not be determined (service unreachable past the grace window,
// or a bad record).
func (v *Validator) Validate(ctx context.Context, pluginID, userID, feature string) (bool, error) {
	start := time.Now()

	// Free plugins never touch the cache or the network.
	if !v.IsPaid(pluginID) {
		v.metrics.RecordLicenseValidation(ctx, true, time.Since(start), nil)
		return true, nil
	}

	if record, ok := v.cache.Get(userID, pluginID); ok {
		allowed := v.decide(record, feature)
		v.metrics.RecordLicenseValidation(ctx, true, time.Since(start), nil)
		return allowed, nil
	}

	record, err := v.fetch(ctx, userID, pluginID)
	if err != nil {
		// Degrade to the last good record within the grace window.
		if stale, ok := v.cache.GetStale(userID, pluginID); ok {
			v.logger.Warn("license service unreachable, using cached entitlement",
				"plugin_id", pluginID,
				"error", err)
			allowed := v.decide(stale, feature)
			v.metrics.RecordLicenseValidation(ctx, true, time.Since(start), nil)
			return allowed, nil
		}
		v.metrics.RecordLicenseValidation(ctx, false, time.Since(start), err)
		if errors.Is(err, ErrBadSignature) {
			return false, err
		}
		return false, &RetryableError{
			PluginID:   pluginID,
			RetryAfter: 30 * time.Second,
			Err:        err,
		}
	}

	allowed := v.decide(record, feature)
	v.metrics.RecordLicenseValidation(ctx, false, time.Since(start), nil)
	return allowed, nil
}

// fetch collapses concurrent misses for the same key into one remote call.
func (v *Validator) fetch(ctx context.Context, userID, pluginID string) (*Record, error) {
	if v.client == nil {
		return nil, ErrServiceUnavailable
	}
	key := userID + "\x00" + pluginID
	result, err, _ := v.group.Do(key, func() (any, error) {
		record, err := v.client.Fetch(ctx, userID, pluginID)
		if err != nil {
			return nil, err
		}
		v.cache.Set(userID, pluginID, record)
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Record), nil
}

func (v *Validator) decide(record *Record, feature string) bool {
	if record.Expired(time.Now()) {
		return false
	}
	return record.HasFeature(feature)
}

// Close stops the cache sweeper.
func (v *Validator) Close() {
	v.cache.Stop()
}
