// Package metrics holds the counters and snapshot types of a probe session.
//
// [Counters] accumulates message totals, request outcomes, payload sizes and
// serviced latency. It keeps an HDR histogram so snapshots can report latency
// percentiles:
//
//	c := metrics.NewCounters(time.Minute)
//	c.RecordPayload(512)
//	c.RecordLatency(20 * time.Millisecond)
//	snap := c.Snapshot(pending, elapsed)
//
// # Snapshots
//
// A [Snapshot] is a value copy. It never aliases the counters it was taken from
// and is safe to hand to other goroutines. Durations are mirrored into
// millisecond float fields for JSON and YAML output.
//
// # Thread Safety
//
// Counters has no lock of its own. The correlation engine holds one mutex over
// its pending table and its counters so that classification and counting are
// observed together.
//
// # Subjects
//
// [SubjectStats] breaks request outcomes down by request subject.
// [RankSubjects] orders them for reporting.
package metrics
