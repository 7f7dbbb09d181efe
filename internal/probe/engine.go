package probe

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/torosent/busprobe/internal/metrics"
)

// Options configure an Engine.
type Options struct {
	MaxLatency   time.Duration // histogram ceiling, normally the max wait
	SubjectCache int           // subjects tracked for the breakdown (0 disables it)
	TopSubjects  int           // subjects included in each snapshot (0 means all tracked)
	Listener     Listener      // notified when a request is serviced or times out
	Clock        clock.Clock   // session clock, defaults to the wall clock
	RunID        string        // stamped on every snapshot
}

// Engine correlates requests with responses and aggregates the results.
//
// One mutex guards the pending table, the counters and the subject breakdown
// for the whole of every Observe, Sweep and Snapshot call. A pending entry is
// therefore removed exactly once, either by a matching response or by a sweep.
type Engine struct {
	mu       sync.Mutex
	pending  map[string]PendingRequest
	counters *metrics.Counters
	subjects *simplelru.LRU[string, *metrics.SubjectStats]
	topN     int
	listener Listener
	clock    clock.Clock
	start    time.Time
	runID    string
}

// NewEngine creates an engine with an empty pending table.
func NewEngine(opt Options) *Engine {
	if opt.Clock == nil {
		opt.Clock = clock.New()
	}
	if opt.Listener == nil {
		opt.Listener = nopListener{}
	}
	e := &Engine{
		pending:  make(map[string]PendingRequest),
		counters: metrics.NewCounters(opt.MaxLatency),
		topN:     opt.TopSubjects,
		listener: opt.Listener,
		clock:    opt.Clock,
		start:    opt.Clock.Now(),
		runID:    opt.RunID,
	}
	if opt.SubjectCache > 0 {
		// NewLRU only fails for a non-positive size.
		e.subjects, _ = simplelru.NewLRU[string, *metrics.SubjectStats](opt.SubjectCache, nil)
	}
	return e
}

// Start marks the beginning of the session used for throughput figures.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.start = e.clock.Now()
}

// Observe classifies msg and updates the pending table and counters.
//
// A message whose subject matches a pending reply address is a response, even
// if it carries a reply address itself. Otherwise a message with a reply
// address is a request. Everything else is unrelated traffic.
func (e *Engine) Observe(msg Message, now time.Time) Outcome {
	e.mu.Lock()
	out := e.observeLocked(msg, now)
	e.mu.Unlock()

	if out.Kind == KindResponse {
		e.listener.OnServiced(out.Exchange)
	}
	return out
}

func (e *Engine) observeLocked(msg Message, now time.Time) Outcome {
	e.counters.RecordPayload(msg.PayloadSize)

	if pr, ok := e.pending[msg.Subject]; ok {
		delete(e.pending, msg.Subject)
		latency := now.Sub(pr.StartedAt)
		if latency < 0 {
			latency = 0
		}
		e.counters.Responses++
		e.counters.RecordLatency(latency)
		if msg.HasError {
			e.counters.Errors++
		}
		if st := e.subjectStats(pr.OriginalSubject, false); st != nil {
			st.Serviced++
			st.LatencySum += latency
			if msg.HasError {
				st.Errors++
			}
		}
		return Outcome{
			Kind: KindResponse,
			Exchange: Exchange{
				Key:       msg.Subject,
				Subject:   pr.OriginalSubject,
				StartedAt: pr.StartedAt,
				EndedAt:   now,
				Latency:   latency,
				Error:     msg.HasError,
			},
		}
	}

	if msg.ReplyTo != "" {
		_, replaced := e.pending[msg.ReplyTo]
		if replaced {
			e.counters.Overwritten++
		}
		e.pending[msg.ReplyTo] = PendingRequest{OriginalSubject: msg.Subject, StartedAt: now}
		e.counters.Requests++
		if st := e.subjectStats(msg.Subject, true); st != nil {
			st.Requests++
		}
		return Outcome{Kind: KindRequest, Replaced: replaced}
	}

	e.counters.Unrelated++
	return Outcome{Kind: KindUnrelated}
}

// Sweep expires every pending request older than maxWait and returns how many
// were removed.
func (e *Engine) Sweep(now time.Time, maxWait time.Duration) int {
	e.mu.Lock()
	var expired []Exchange
	for key, pr := range e.pending {
		age := now.Sub(pr.StartedAt)
		if age <= maxWait {
			continue
		}
		delete(e.pending, key)
		e.counters.TimedOut++
		if st := e.subjectStats(pr.OriginalSubject, false); st != nil {
			st.TimedOut++
		}
		expired = append(expired, Exchange{
			Key:       key,
			Subject:   pr.OriginalSubject,
			StartedAt: pr.StartedAt,
			EndedAt:   now,
			Latency:   age,
			TimedOut:  true,
		})
	}
	e.mu.Unlock()

	for _, ex := range expired {
		e.listener.OnTimedOut(ex)
	}
	return len(expired)
}

// Snapshot returns the current aggregates. It never mutates engine state.
func (e *Engine) Snapshot(now time.Time) metrics.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := now.Sub(e.start)
	if elapsed < 0 {
		elapsed = 0
	}
	snap := e.counters.Snapshot(int64(len(e.pending)), elapsed)
	snap.RunID = e.runID
	snap.Taken = now

	if len(e.pending) > 0 {
		var waits time.Duration
		for _, pr := range e.pending {
			if age := now.Sub(pr.StartedAt); age > 0 {
				waits += age
			}
		}
		snap.SetAvgPendingWait(waits / time.Duration(len(e.pending)))
	}

	if e.subjects != nil && e.subjects.Len() > 0 {
		rows := make([]metrics.SubjectStats, 0, e.subjects.Len())
		for _, st := range e.subjects.Values() {
			rows = append(rows, *st)
		}
		snap.Subjects = metrics.RankSubjects(rows, e.topN)
	}
	return snap
}

// PendingCount returns the number of requests awaiting a response.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Pending returns the pending request correlated on key, if any.
func (e *Engine) Pending(key string) (PendingRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pr, ok := e.pending[key]
	return pr, ok
}

// subjectStats returns the breakdown row for subject. With create unset a
// missing (or evicted) subject yields nil. Callers hold e.mu.
func (e *Engine) subjectStats(subject string, create bool) *metrics.SubjectStats {
	if e.subjects == nil {
		return nil
	}
	if st, ok := e.subjects.Get(subject); ok {
		return st
	}
	if !create {
		return nil
	}
	st := &metrics.SubjectStats{Subject: subject}
	e.subjects.Add(subject, st)
	return st
}
