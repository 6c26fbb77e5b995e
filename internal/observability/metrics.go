// Package observability provides OpenTelemetry metric instrumentation for the
// host runtime behind a small recorder interface with a no-op default.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records host runtime metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEmit records a bus emit with its listener count and duration.
	RecordEmit(ctx context.Context, topic string, listeners int, duration time.Duration)

	// RecordListenerFault records a listener error or panic on a topic.
	RecordListenerFault(ctx context.Context, topic string)

	// RecordTransition records a lifecycle transition with its outcome.
	RecordTransition(ctx context.Context, transition string, duration time.Duration, err error)

	// RecordLicenseValidation records a license check and whether the cache
	// answered it.
	RecordLicenseValidation(ctx context.Context, cacheHit bool, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	emits          metric.Int64Counter
	emitLatency    metric.Float64Histogram
	listenerFaults metric.Int64Counter
	transitions    metric.Int64Counter
	transitionTime metric.Float64Histogram
	licenseChecks  metric.Int64Counter
	licenseLatency metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("gantry")

	emits, err := meter.Int64Counter("gantry.bus.emits",
		metric.WithDescription("Number of envelopes emitted on the bus"),
	)
	if err != nil {
		return nil, err
	}

	emitLatency, err := meter.Float64Histogram("gantry.bus.emit_latency_ms",
		metric.WithDescription("Synchronous emit latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	listenerFaults, err := meter.Int64Counter("gantry.bus.listener_faults",
		metric.WithDescription("Number of listener errors and panics"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("gantry.lifecycle.transitions",
		metric.WithDescription("Number of lifecycle transitions"),
	)
	if err != nil {
		return nil, err
	}

	transitionTime, err := meter.Float64Histogram("gantry.lifecycle.transition_latency_ms",
		metric.WithDescription("Lifecycle transition latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	licenseChecks, err := meter.Int64Counter("gantry.license.validations",
		metric.WithDescription("Number of license validations"),
	)
	if err != nil {
		return nil, err
	}

	licenseLatency, err := meter.Float64Histogram("gantry.license.validation_latency_ms",
		metric.WithDescription("License validation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		emits:          emits,
		emitLatency:    emitLatency,
		listenerFaults: listenerFaults,
		transitions:    transitions,
		transitionTime: transitionTime,
		licenseChecks:  licenseChecks,
		licenseLatency: licenseLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. If instrument creation fails, a no-op recorder is returned.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		return NoopMetrics{}
	}
	return m
}

// RecordEmit implements MetricsRecorder.
func (m *otelMetrics) RecordEmit(ctx context.Context, topic string, listeners int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("topic.root", rootSegment(topic)),
		attribute.Int("listeners", listeners),
	)
	m.emits.Add(ctx, 1, attrs)
	m.emitLatency.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
}

// RecordListenerFault implements MetricsRecorder.
func (m *otelMetrics) RecordListenerFault(ctx context.Context, topic string) {
	m.listenerFaults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic.root", rootSegment(topic)),
	))
}

// RecordTransition implements MetricsRecorder.
func (m *otelMetrics) RecordTransition(ctx context.Context, transition string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("transition", transition),
		attribute.Bool("success", err == nil),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.transitionTime.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
}

// RecordLicenseValidation implements MetricsRecorder.
func (m *otelMetrics) RecordLicenseValidation(ctx context.Context, cacheHit bool, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.Bool("cache_hit", cacheHit),
		attribute.Bool("success", err == nil),
	)
	m.licenseChecks.Add(ctx, 1, attrs)
	m.licenseLatency.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
}

// rootSegment keeps topic cardinality bounded by recording only the first
// segment.
func rootSegment(topic string) string {
	for i := 0; i < len(topic); i++ {
		if topic[i] == '.' {
			return topic[:i]
		}
	}
	return topic
}
