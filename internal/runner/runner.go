package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/busprobe/internal/bus"
	"github.com/torosent/busprobe/internal/metrics"
)

// ErrMissingDependency is returned by Run when the source or the engine is nil.
var ErrMissingDependency = errors.New("runner: source and engine are required")

// Result captures the final state of a run.
type Result struct {
	Snapshot metrics.Snapshot
	Duration time.Duration
	Sweeps   int64
}

// Runner drives message ingestion and the periodic sweep of one engine.
type Runner struct {
	opt    Options
	sweeps atomic.Int64

	// Message time for recorded sources. Only ingest advances it.
	timeMu  sync.Mutex
	msgTime time.Time // latest message time seen
	swept   time.Time // last sweep boundary on the message timeline
}

// New creates a Runner, filling unset options with defaults.
func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt}
}

// Run blocks until ctx is cancelled, the duration elapses, the source reports
// io.EOF, or the source fails. Only a source failure is returned as an error.
// Requests still pending at exit are left unaccounted.
//
// For a source that replays a recorded timeline, expiry follows message time:
// ingest sweeps at every sweep-interval boundary the messages cross, and the
// timer only publishes snapshots.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.opt.Source == nil || r.opt.Engine == nil {
		return Result{}, ErrMissingDependency
	}
	clk := r.opt.Clock
	recorded := false
	if rs, ok := r.opt.Source.(bus.Recorded); ok {
		recorded = rs.RecordedTimeline()
	}
	start := clk.Now()
	r.opt.Engine.Start()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := clk.WithTimeout(ctx, r.opt.Duration)
		ctx = deadlineCtx
		defer deadlineCancel()
	}

	// Created before any goroutine starts so a mock clock sees it registered.
	ticker := clk.Ticker(r.opt.SweepInterval)
	defer ticker.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The sweeper has nothing left to do once ingestion stops.
		defer cancel()
		return r.ingest(gctx, clk, recorded)
	})
	g.Go(func() error {
		r.sweepLoop(gctx, clk, ticker, recorded)
		return nil
	})
	err := g.Wait()

	end := clk.Now()
	res := Result{
		Snapshot: r.opt.Engine.Snapshot(r.snapshotTime(end, recorded)),
		Duration: end.Sub(start),
		Sweeps:   r.sweeps.Load(),
	}
	return res, err
}

func (r *Runner) ingest(ctx context.Context, clk clock.Clock, recorded bool) error {
	for {
		msg, err := r.opt.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.opt.Logger.Debug("source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			r.opt.Logger.WithError(err).Error("message source failed")
			return fmt.Errorf("read message: %w", err)
		}
		now := msg.ReceivedAt
		if now.IsZero() {
			now = clk.Now()
		}
		if recorded {
			r.advance(now)
		}
		r.opt.Engine.Observe(msg, now)
	}
}

func (r *Runner) sweepLoop(ctx context.Context, clk clock.Clock, ticker *clock.Ticker, recorded bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.snapshotTime(clk.Now(), recorded)
			if !recorded {
				r.sweep(now)
			}
			snap := r.opt.Engine.Snapshot(now)
			for _, sink := range r.opt.Sinks {
				if sink != nil {
					sink.Publish(snap)
				}
			}
		}
	}
}

func (r *Runner) sweep(now time.Time) {
	if n := r.opt.Engine.Sweep(now, r.opt.MaxWait); n > 0 {
		r.opt.Logger.WithField("expired", n).Debug("swept pending requests")
	}
	r.sweeps.Add(1)
}

// advance moves the message timeline to t, sweeping at each boundary crossed.
// A message older than the last boundary is judged against the latest
// boundary at or before it, so a late response to an expired request is not
// serviced.
func (r *Runner) advance(t time.Time) {
	r.timeMu.Lock()
	defer r.timeMu.Unlock()

	if r.swept.IsZero() {
		r.msgTime, r.swept = t, t
		return
	}
	if t.After(r.msgTime) {
		r.msgTime = t
	}

	interval := r.opt.SweepInterval
	if t.Before(r.swept) {
		steps := (r.swept.Sub(t) + interval - 1) / interval
		r.sweep(r.swept.Add(-steps * interval))
		return
	}
	for next := r.swept.Add(interval); !next.After(t); next = r.swept.Add(interval) {
		if r.opt.Engine.PendingCount() == 0 {
			r.swept = r.swept.Add(t.Sub(r.swept) / interval * interval)
			break
		}
		r.sweep(next)
		r.swept = next
	}
}

// snapshotTime is the message time for recorded sources once one message has
// been seen, and wall otherwise.
func (r *Runner) snapshotTime(wall time.Time, recorded bool) time.Time {
	if !recorded {
		return wall
	}
	r.timeMu.Lock()
	defer r.timeMu.Unlock()
	if r.msgTime.IsZero() {
		return wall
	}
	return r.msgTime
}
