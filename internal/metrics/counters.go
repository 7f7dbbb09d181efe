package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// DefaultMaxLatency is the smallest latency ceiling the histogram tracks.
const DefaultMaxLatency = 60 * time.Second

// Counters holds the running totals of a probe session.
//
// Counters is not safe for concurrent use. The owner (the correlation engine)
// guards it together with its pending table under one lock.
type Counters struct {
	Total       int64
	Serviced    int64
	TimedOut    int64
	Errors      int64
	Requests    int64
	Responses   int64
	Unrelated   int64
	Overwritten int64

	LatencySum time.Duration
	MinLatency time.Duration
	MaxLatency time.Duration

	MaxPayload int64
	PayloadSum int64

	hist *hdrhistogram.Histogram
}

// NewCounters returns zeroed counters whose latency histogram covers at least
// maxLatency. Values below DefaultMaxLatency are raised to it.
func NewCounters(maxLatency time.Duration) *Counters {
	if maxLatency < DefaultMaxLatency {
		maxLatency = DefaultMaxLatency
	}
	// Microsecond resolution with 3 significant figures.
	return &Counters{
		hist: hdrhistogram.New(1, maxLatency.Microseconds(), 3),
	}
}

// RecordPayload counts one observed message of the given size.
func (c *Counters) RecordPayload(size int64) {
	if size < 0 {
		size = 0
	}
	c.Total++
	c.PayloadSum += size
	if size > c.MaxPayload {
		c.MaxPayload = size
	}
}

// RecordLatency adds one serviced round trip.
func (c *Counters) RecordLatency(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	c.Serviced++
	c.LatencySum += latency

	if c.Serviced == 1 || latency < c.MinLatency {
		c.MinLatency = latency
	}
	if latency > c.MaxLatency {
		c.MaxLatency = latency
	}

	us := latency.Microseconds()
	if us < c.hist.LowestTrackableValue() {
		us = c.hist.LowestTrackableValue()
	}
	if us > c.hist.HighestTrackableValue() {
		us = c.hist.HighestTrackableValue()
	}
	_ = c.hist.RecordValue(us)
}

// LatencySumMillis returns the summed serviced latency in whole milliseconds.
func (c *Counters) LatencySumMillis() int64 {
	return c.LatencySum.Milliseconds()
}

// Quantile returns the serviced latency at quantile q (0-100).
func (c *Counters) Quantile(q float64) time.Duration {
	if c.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(c.hist.ValueAtQuantile(q)) * time.Microsecond
}

// Snapshot projects the counters into a read-only Snapshot. pending is the
// current size of the pending table and elapsed the session age.
func (c *Counters) Snapshot(pending int64, elapsed time.Duration) Snapshot {
	s := Snapshot{
		Total:            c.Total,
		Serviced:         c.Serviced,
		TimedOut:         c.TimedOut,
		Errors:           c.Errors,
		Pending:          pending,
		Requests:         c.Requests,
		Responses:        c.Responses,
		Unrelated:        c.Unrelated,
		Overwritten:      c.Overwritten,
		MaxPayload:       c.MaxPayload,
		PayloadSum:       c.PayloadSum,
		LatencySumMillis: c.LatencySumMillis(),
		MinLatency:       c.MinLatency,
		MaxLatency:       c.MaxLatency,
		Elapsed:          elapsed,
	}

	if c.Serviced > 0 {
		s.AvgLatency = time.Duration(int64(c.LatencySum) / c.Serviced)
		s.P50Latency = c.Quantile(50)
		s.P90Latency = c.Quantile(90)
		s.P99Latency = c.Quantile(99)
	}
	if c.Total > 0 {
		s.AvgPayload = float64(c.PayloadSum) / float64(c.Total)
	}
	if elapsed > 0 && c.Total > 0 {
		s.MessagesPerSec = float64(c.Total) / elapsed.Seconds()
	}

	s.fillMillis()
	return s
}
