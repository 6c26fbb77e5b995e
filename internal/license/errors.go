package license

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for license validation outcomes.
var (
	// ErrFeatureDenied indicates the user's entitlement does not cover the
	// requested feature.
	ErrFeatureDenied = errors.New("license: feature denied")

	// ErrServiceUnavailable indicates the license service could not be
	// reached and no usable cached entitlement exists.
	ErrServiceUnavailable = errors.New("license: service unavailable")

	// ErrBadSignature indicates an entitlement record failed HMAC
	// verification and was discarded.
	ErrBadSignature = errors.New("license: bad record signature")
)

// FeatureError carries the identity of a denied feature activation.
type FeatureError struct {
	PluginID string
	UserID   string
	Feature  string
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("license: feature %q of plugin %q denied for user %q",
		e.Feature, e.PluginID, e.UserID)
}

// Is lets errors.Is match against ErrFeatureDenied.
func (e *FeatureError) Is(target error) bool {
	return target == ErrFeatureDenied
}

// RetryableError indicates a transient validation failure. Callers may retry
// after RetryAfter.
type RetryableError struct {
	PluginID   string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("license: validation for plugin %q unavailable (retry after %s): %v",
		e.PluginID, e.RetryAfter, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match against ErrServiceUnavailable.
func (e *RetryableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}
