package metrics

import "time"

// Snapshot is an immutable point-in-time view of a probe session.
type Snapshot struct {
	RunID string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Taken time.Time `json:"taken" yaml:"taken"`

	Total       int64 `json:"total" yaml:"total"`
	Serviced    int64 `json:"serviced" yaml:"serviced"`
	TimedOut    int64 `json:"timed_out" yaml:"timed_out"`
	Errors      int64 `json:"errors" yaml:"errors"`
	Pending     int64 `json:"pending" yaml:"pending"`
	Requests    int64 `json:"requests" yaml:"requests"`
	Responses   int64 `json:"responses" yaml:"responses"`
	Unrelated   int64 `json:"unrelated" yaml:"unrelated"`
	Overwritten int64 `json:"overwritten" yaml:"overwritten"`

	MaxPayload     int64   `json:"max_payload" yaml:"max_payload"`
	PayloadSum     int64   `json:"payload_sum" yaml:"payload_sum"`
	AvgPayload     float64 `json:"avg_payload" yaml:"avg_payload"`
	MessagesPerSec float64 `json:"messages_per_sec" yaml:"messages_per_sec"`

	LatencySumMillis int64         `json:"latency_sum_ms" yaml:"latency_sum_ms"`
	AvgLatency       time.Duration `json:"-" yaml:"-"`
	MinLatency       time.Duration `json:"-" yaml:"-"`
	MaxLatency       time.Duration `json:"-" yaml:"-"`
	P50Latency       time.Duration `json:"-" yaml:"-"`
	P90Latency       time.Duration `json:"-" yaml:"-"`
	P99Latency       time.Duration `json:"-" yaml:"-"`
	AvgPendingWait   time.Duration `json:"-" yaml:"-"`
	Elapsed          time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	AvgLatencyMs     float64 `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	MinLatencyMs     float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs     float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	P50LatencyMs     float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs     float64 `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs     float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	AvgPendingWaitMs float64 `json:"avg_pending_wait_ms" yaml:"avg_pending_wait_ms"`
	ElapsedMs        float64 `json:"elapsed_ms" yaml:"elapsed_ms"`

	Subjects []SubjectStats `json:"subjects,omitempty" yaml:"subjects,omitempty"`
}

// HasAvgLatency reports whether AvgLatency is defined, i.e. at least one
// request was serviced.
func (s Snapshot) HasAvgLatency() bool {
	return s.Serviced > 0
}

// SetAvgPendingWait sets the mean age of pending requests and its millisecond mirror.
func (s *Snapshot) SetAvgPendingWait(d time.Duration) {
	s.AvgPendingWait = d
	s.AvgPendingWaitMs = toMillis(d)
}

func (s *Snapshot) fillMillis() {
	s.AvgLatencyMs = toMillis(s.AvgLatency)
	s.MinLatencyMs = toMillis(s.MinLatency)
	s.MaxLatencyMs = toMillis(s.MaxLatency)
	s.P50LatencyMs = toMillis(s.P50Latency)
	s.P90LatencyMs = toMillis(s.P90Latency)
	s.P99LatencyMs = toMillis(s.P99Latency)
	s.AvgPendingWaitMs = toMillis(s.AvgPendingWait)
	s.ElapsedMs = toMillis(s.Elapsed)
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
