package metrics

import (
	"sort"
	"time"
)

// SubjectStats aggregates request outcomes for one request subject.
type SubjectStats struct {
	Subject      string        `json:"subject" yaml:"subject"`
	Requests     int64         `json:"requests" yaml:"requests"`
	Serviced     int64         `json:"serviced" yaml:"serviced"`
	TimedOut     int64         `json:"timed_out" yaml:"timed_out"`
	Errors       int64         `json:"errors" yaml:"errors"`
	LatencySum   time.Duration `json:"-" yaml:"-"`
	AvgLatencyMs float64       `json:"avg_latency_ms" yaml:"avg_latency_ms"`
}

// AvgLatency returns the mean serviced latency, or 0 when nothing was serviced.
func (s SubjectStats) AvgLatency() time.Duration {
	if s.Serviced == 0 {
		return 0
	}
	return time.Duration(int64(s.LatencySum) / s.Serviced)
}

// RankSubjects sorts rows by descending request count, then by subject for
// stability, fills the derived millisecond fields and keeps at most limit rows.
// A limit <= 0 keeps all rows.
func RankSubjects(rows []SubjectStats, limit int) []SubjectStats {
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Requests == rows[j].Requests {
			return rows[i].Subject < rows[j].Subject
		}
		return rows[i].Requests > rows[j].Requests
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].AvgLatencyMs = toMillis(rows[i].AvgLatency())
	}
	return rows
}
