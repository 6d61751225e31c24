package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the counter data point carrying attribute
// key=value, and whether such a point exists.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecognitionError(ctx, "network", true)
	m.RecordRecognitionError(ctx, "network", true)
	m.RecordGateDecision(ctx, "high", "execute")
	m.RecordExecution(ctx, "success")
	m.RecordExecution(ctx, "error")
	m.RecordExecution(ctx, "error")
	m.RecordSyncPass(ctx, "offline")
	m.RecordBreakerTransition(ctx, "executor", "open")
	m.RecordNetworkTransition(ctx, false)

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"voicecmd.recognition.errors", "type", "network", 2},
		{"voicecmd.gate.decisions", "band", "high", 1},
		{"voicecmd.queue.executions", "result", "success", 1},
		{"voicecmd.queue.executions", "result", "error", 2},
		{"voicecmd.queue.sync_passes", "result", "offline", 1},
		{"voicecmd.breaker.transitions", "state", "open", 1},
		{"voicecmd.network.transitions", "online", "false", 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.value, func(t *testing.T) {
			got, ok := sumWhere(t, rm, tt.metric, tt.key, tt.value)
			if !ok {
				t.Fatalf("no data point with %s=%s", tt.key, tt.value)
			}
			if got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecordUtterance_DurationOnlyWhenCompleted(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "success", "normal", "completed", 1.2)
	m.RecordUtterance(ctx, "neutral", "high", "interrupted", 0.3)

	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "voicecmd.speaker.utterances", "outcome", "interrupted"); got != 1 {
		t.Errorf("interrupted utterances = %d, want 1", got)
	}
	met := findMetric(rm, "voicecmd.speaker.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("duration samples = %+v, want exactly one", hist.DataPoints)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Record(ctx, 4)
	m.QueueDepth.Record(ctx, 2)

	rm := collect(t, reader)
	met := findMetric(rm, "voicecmd.queue.depth")
	if met == nil {
		t.Fatal("metric not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("metric is %T, want gauge", met.Data)
	}
	if len(g.DataPoints) == 0 || g.DataPoints[0].Value != 2 {
		t.Errorf("gauge = %+v, want last value 2", g.DataPoints)
	}
}

func TestExecutorDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordExecutorCall(context.Background(), "execute", 0.2)

	rm := collect(t, reader)
	met := findMetric(rm, "voicecmd.executor.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("no histogram data")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
