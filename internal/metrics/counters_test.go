package metrics_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/torosent/busprobe/internal/metrics"
)

func TestCountersPayloadAggregates(t *testing.T) {
	c := metrics.NewCounters(0)

	for _, size := range []int64{10, 4096, 50} {
		c.RecordPayload(size)
	}

	snap := c.Snapshot(0, 0)
	if snap.Total != 3 {
		t.Errorf("expected total 3, got %d", snap.Total)
	}
	if snap.MaxPayload != 4096 {
		t.Errorf("expected max payload 4096, got %d", snap.MaxPayload)
	}
	if snap.PayloadSum != 4156 {
		t.Errorf("expected payload sum 4156, got %d", snap.PayloadSum)
	}
	want := 4156.0 / 3.0
	if snap.AvgPayload != want {
		t.Errorf("expected avg payload %f, got %f", want, snap.AvgPayload)
	}
}

func TestCountersNegativePayloadClamped(t *testing.T) {
	c := metrics.NewCounters(0)
	c.RecordPayload(-5)

	snap := c.Snapshot(0, 0)
	if snap.Total != 1 || snap.PayloadSum != 0 || snap.MaxPayload != 0 {
		t.Errorf("unexpected aggregates: %+v", snap)
	}
}

func TestCountersLatencyStats(t *testing.T) {
	c := metrics.NewCounters(0)

	c.RecordLatency(10 * time.Millisecond)
	c.RecordLatency(20 * time.Millisecond)
	c.RecordLatency(30 * time.Millisecond)
	c.RecordLatency(40 * time.Millisecond)
	c.RecordLatency(50 * time.Millisecond)

	snap := c.Snapshot(0, 0)
	if snap.Serviced != 5 {
		t.Errorf("expected serviced 5, got %d", snap.Serviced)
	}
	if snap.MinLatency != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", snap.MinLatency)
	}
	if snap.MaxLatency != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", snap.MaxLatency)
	}
	if snap.AvgLatency != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %s", snap.AvgLatency)
	}
	if snap.LatencySumMillis != 150 {
		t.Errorf("expected latency sum 150ms, got %d", snap.LatencySumMillis)
	}
	if !snap.HasAvgLatency() {
		t.Error("expected average latency to be defined")
	}
}

func TestCountersNoServicedLeavesAverageUndefined(t *testing.T) {
	c := metrics.NewCounters(0)
	c.RecordPayload(1)

	snap := c.Snapshot(3, time.Second)
	if snap.HasAvgLatency() {
		t.Error("expected average latency to be undefined")
	}
	if snap.AvgLatency != 0 || snap.P99Latency != 0 {
		t.Errorf("expected zero latency fields, got avg=%s p99=%s", snap.AvgLatency, snap.P99Latency)
	}
	if snap.Pending != 3 {
		t.Errorf("expected pending 3, got %d", snap.Pending)
	}
}

func TestPercentilesCalculations(t *testing.T) {
	c := metrics.NewCounters(0)

	// 100 samples: 1ms, 2ms, ..., 100ms.
	for i := 1; i <= 100; i++ {
		c.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	snap := c.Snapshot(0, 0)

	if snap.P50Latency < 49*time.Millisecond || snap.P50Latency > 51*time.Millisecond {
		t.Errorf("expected P50 ~50ms, got %s", snap.P50Latency)
	}
	if snap.P90Latency < 89*time.Millisecond || snap.P90Latency > 91*time.Millisecond {
		t.Errorf("expected P90 ~90ms, got %s", snap.P90Latency)
	}
	if snap.P99Latency < 98*time.Millisecond || snap.P99Latency > 100*time.Millisecond {
		t.Errorf("expected P99 ~99ms, got %s", snap.P99Latency)
	}
}

func TestLatencyAboveCeilingIsClamped(t *testing.T) {
	c := metrics.NewCounters(time.Minute)
	c.RecordLatency(2 * time.Hour)

	snap := c.Snapshot(0, 0)
	if snap.MaxLatency != 2*time.Hour {
		t.Errorf("expected exact max latency, got %s", snap.MaxLatency)
	}
	if snap.P99Latency > 61*time.Second {
		t.Errorf("expected histogram value clamped near ceiling, got %s", snap.P99Latency)
	}
}

func TestMessagesPerSec(t *testing.T) {
	c := metrics.NewCounters(0)
	for i := 0; i < 50; i++ {
		c.RecordPayload(1)
	}

	snap := c.Snapshot(0, 2*time.Second)
	if snap.MessagesPerSec != 25 {
		t.Errorf("expected 25 msgs/sec, got %f", snap.MessagesPerSec)
	}
	if snap.ElapsedMs != 2000 {
		t.Errorf("expected elapsed 2000ms, got %f", snap.ElapsedMs)
	}
}

func TestJSONSnapshotSchema(t *testing.T) {
	c := metrics.NewCounters(0)
	c.RecordPayload(15)
	c.RecordLatency(25 * time.Millisecond)

	data, err := json.Marshal(c.Snapshot(1, 100*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	requiredFields := []string{"total", "serviced", "timed_out", "errors", "pending", "max_payload", "avg_payload", "avg_latency_ms", "p99_latency_ms", "latency_sum_ms", "elapsed_ms"}
	for _, field := range requiredFields {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
}
