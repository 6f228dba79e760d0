package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

// sumValueWith returns the value of the data point carrying attribute
// key=value, or -1 when absent.
func sumValueWith(met *metricdata.Metrics, key, value string) int64 {
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		return -1
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxwire.call.duration", m.CallDuration},
		{"voxwire.mark.roundtrip", m.MarkRoundtrip},
		{"voxwire.transliterate.duration", m.TransliterateDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestAudioPacketCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAudioPacket(ctx, "in")
	m.RecordAudioPacket(ctx, "in")
	m.RecordAudioPacket(ctx, "out")

	rm := collect(t, reader)
	met := findMetric(rm, "voxwire.audio.packets")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumValueWith(met, "direction", "in"); got != 2 {
		t.Errorf("direction=in value = %d, want 2", got)
	}
	if got := sumValueWith(met, "direction", "out"); got != 1 {
		t.Errorf("direction=out value = %d, want 1", got)
	}
}

func TestDroppedPacketsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDroppedPackets(ctx, "bargein", 7)
	m.RecordDroppedPackets(ctx, "bargein", 0) // no-op
	m.RecordDroppedPackets(ctx, "takeover", 2)

	rm := collect(t, reader)
	met := findMetric(rm, "voxwire.audio.dropped")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumValueWith(met, "cause", "bargein"); got != 7 {
		t.Errorf("cause=bargein value = %d, want 7", got)
	}
	if got := sumValueWith(met, "cause", "takeover"); got != 2 {
		t.Errorf("cause=takeover value = %d, want 2", got)
	}
}

func TestTranscriptCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscript(ctx, "Caller", "broadcast")
	m.RecordTranscript(ctx, "Caller", "filtered")
	m.RecordTranscript(ctx, "AI", "broadcast")

	rm := collect(t, reader)
	met := findMetric(rm, "voxwire.transcripts")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := sumValueWith(met, "status", "filtered"); got != 1 {
		t.Errorf("status=filtered value = %d, want 1", got)
	}
}

func TestLifecycleCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.BargeIns.Add(ctx, 1)
	m.RecordRenewal(ctx, "ok")
	m.RecordRenewal(ctx, "error")
	m.RecordEndCall(ctx, "watchdog")
	m.RecordTakeover(ctx, "enable")

	rm := collect(t, reader)

	if met := findMetric(rm, "voxwire.bargein.count"); met == nil {
		t.Error("bargein metric not found")
	}
	if got := sumValueWith(findMetric(rm, "voxwire.ai.renewals"), "status", "error"); got != 1 {
		t.Errorf("renewals status=error = %d, want 1", got)
	}
	if got := sumValueWith(findMetric(rm, "voxwire.endcall.finalized"), "trigger", "watchdog"); got != 1 {
		t.Errorf("endcall trigger=watchdog = %d, want 1", got)
	}
	if got := sumValueWith(findMetric(rm, "voxwire.takeover.transitions"), "action", "enable"); got != 1 {
		t.Errorf("takeover action=enable = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, -1)
	m.HumanControlled.Add(ctx, 1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"voxwire.active_calls", 1},
		{"voxwire.human_controlled", 1},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "voxwire.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
