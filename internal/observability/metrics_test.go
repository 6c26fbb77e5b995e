package observability

import (
	"context"
	"testing"
	"time"
)

func TestNewMetricsRecorder_NeverNil(t *testing.T) {
	r := NewMetricsRecorder()
	if r == nil {
		t.Fatal("expected a recorder")
	}

	// Recording through the default (noop meter provider) must not panic.
	ctx := context.Background()
	r.RecordEmit(ctx, "system.startup", 3, time.Millisecond)
	r.RecordListenerFault(ctx, "plugin.markdown.ready")
	r.RecordTransition(ctx, "enable", 5*time.Millisecond, nil)
	r.RecordLicenseValidation(ctx, true, time.Millisecond, nil)
}

func TestRootSegment(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"system.startup", "system"},
		{"plugin.markdown.ready", "plugin"},
		{"healthz", "healthz"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := rootSegment(tt.topic); got != tt.want {
			t.Errorf("rootSegment(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestNoopMetrics_Implements(t *testing.T) {
	var r MetricsRecorder = NoopMetrics{}
	r.RecordEmit(context.Background(), "a.b", 0, 0)
}
