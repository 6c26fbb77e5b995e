package observability

import (
	"context"
	"time"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordEmit does nothing.
func (NoopMetrics) RecordEmit(_ context.Context, _ string, _ int, _ time.Duration) {}

// RecordListenerFault does nothing.
func (NoopMetrics) RecordListenerFault(_ context.Context, _ string) {}

// RecordTransition does nothing.
func (NoopMetrics) RecordTransition(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordLicenseValidation does nothing.
func (NoopMetrics) RecordLicenseValidation(_ context.Context, _ bool, _ time.Duration, _ error) {}
