package runner_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/busprobe/internal/metrics"
	"github.com/torosent/busprobe/internal/probe"
	"github.com/torosent/busprobe/internal/runner"
)

// fakeSource yields queued messages, then blocks or ends with err.
type fakeSource struct {
	msgs chan probe.Message
	err  error // returned once msgs is closed and drained
}

func newFakeSource(buffer int) *fakeSource {
	return &fakeSource{msgs: make(chan probe.Message, buffer)}
}

func (f *fakeSource) Next(ctx context.Context) (probe.Message, error) {
	select {
	case m, ok := <-f.msgs:
		if !ok {
			if f.err != nil {
				return probe.Message{}, f.err
			}
			return probe.Message{}, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return probe.Message{}, ctx.Err()
	}
}

func (f *fakeSource) Close() error { return nil }

// recordedSource marks its messages as stamped on a recorded timeline.
type recordedSource struct {
	*fakeSource
}

func (recordedSource) RecordedTimeline() bool { return true }

type captureSink struct {
	mu    sync.Mutex
	snaps []metrics.Snapshot
}

func (c *captureSink) Publish(s metrics.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *captureSink) last() (metrics.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) == 0 {
		return metrics.Snapshot{}, false
	}
	return c.snaps[len(c.snaps)-1], true
}

type harness struct {
	clock  *clock.Mock
	engine *probe.Engine
	source *fakeSource
	sink   *captureSink
}

func newHarness() *harness {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return &harness{
		clock:  mock,
		engine: probe.NewEngine(probe.Options{Clock: mock}),
		source: newFakeSource(16),
		sink:   &captureSink{},
	}
}

func (h *harness) options() runner.Options {
	return runner.Options{
		Source:        h.source,
		Engine:        h.engine,
		MaxWait:       5 * time.Second,
		SweepInterval: time.Second,
		Clock:         h.clock,
		Sinks:         []runner.Sink{h.sink},
	}
}

type runOutcome struct {
	res runner.Result
	err error
}

func start(ctx context.Context, opt runner.Options) <-chan runOutcome {
	done := make(chan runOutcome, 1)
	go func() {
		res, err := runner.New(opt).Run(ctx)
		done <- runOutcome{res, err}
	}()
	return done
}

func wait(t *testing.T, done <-chan runOutcome) runOutcome {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
		return runOutcome{}
	}
}

func TestRunnerEndsOnSourceEOF(t *testing.T) {
	h := newHarness()
	h.source.msgs <- probe.Message{Subject: "svc", ReplyTo: "_R1"}
	h.source.msgs <- probe.Message{Subject: "_R1", PayloadSize: 20}
	close(h.source.msgs)

	out := wait(t, start(context.Background(), h.options()))
	require.NoError(t, out.err)
	assert.EqualValues(t, 2, out.res.Snapshot.Total)
	assert.EqualValues(t, 1, out.res.Snapshot.Serviced)
}

func TestRunnerReturnsSourceFailure(t *testing.T) {
	h := newHarness()
	boom := errors.New("connection reset")
	h.source.err = boom
	h.source.msgs <- probe.Message{Subject: "svc", ReplyTo: "_R1"}
	close(h.source.msgs)

	out := wait(t, start(context.Background(), h.options()))
	require.ErrorIs(t, out.err, boom)
	assert.EqualValues(t, 1, out.res.Snapshot.Pending, "pending requests are not drained")
}

func TestRunnerSweepsOnTick(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := start(ctx, h.options())
	h.source.msgs <- probe.Message{Subject: "svc.slow", ReplyTo: "_R2"}
	require.Eventually(t, func() bool { return h.engine.PendingCount() == 1 }, time.Second, time.Millisecond)

	// Exactly max wait old survives the sweep.
	h.clock.Add(5 * time.Second)
	require.Eventually(t, func() bool {
		s, ok := h.sink.last()
		return ok && s.Taken.Equal(h.clock.Now())
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, h.engine.PendingCount())

	h.clock.Add(time.Second)
	require.Eventually(t, func() bool {
		s, ok := h.sink.last()
		return ok && s.TimedOut == 1
	}, time.Second, time.Millisecond)

	_, pending := h.engine.Pending("_R2")
	assert.False(t, pending)

	cancel()
	out := wait(t, done)
	require.NoError(t, out.err)
	assert.EqualValues(t, 1, out.res.Snapshot.TimedOut)
	assert.Positive(t, out.res.Sweeps)
}

func TestRunnerUsesReceivedAt(t *testing.T) {
	h := newHarness()
	base := h.clock.Now()
	h.source.msgs <- probe.Message{Subject: "svc", ReplyTo: "_R", ReceivedAt: base}
	h.source.msgs <- probe.Message{Subject: "_R", ReceivedAt: base.Add(750 * time.Millisecond)}
	close(h.source.msgs)

	out := wait(t, start(context.Background(), h.options()))
	require.NoError(t, out.err)
	assert.Equal(t, 750*time.Millisecond, out.res.Snapshot.AvgLatency)
}

func TestRunnerExpiresOnRecordedTimeline(t *testing.T) {
	h := newHarness()
	opt := h.options()
	opt.Source = recordedSource{h.source}
	opt.MaxWait = time.Minute

	base := h.clock.Now()
	at := func(d time.Duration) time.Time { return base.Add(d) }
	h.source.msgs <- probe.Message{Subject: "svc", ReplyTo: "_R1", ReceivedAt: at(0)}
	h.source.msgs <- probe.Message{Subject: "noise", ReceivedAt: at(2 * time.Minute)}
	// Out of order: recorded before the noise, answered after max wait.
	h.source.msgs <- probe.Message{Subject: "svc", ReplyTo: "_R2", ReceivedAt: at(0)}
	h.source.msgs <- probe.Message{Subject: "_R2", ReceivedAt: at(90 * time.Second)}
	// In order and answered in time.
	h.source.msgs <- probe.Message{Subject: "svc", ReplyTo: "_R3", ReceivedAt: at(3 * time.Minute)}
	h.source.msgs <- probe.Message{Subject: "_R3", ReceivedAt: at(3*time.Minute + 59*time.Second)}
	close(h.source.msgs)

	// The wall clock never moves, so every expiry comes from message time.
	out := wait(t, start(context.Background(), opt))
	require.NoError(t, out.err)

	snap := out.res.Snapshot
	assert.EqualValues(t, 3, snap.Requests)
	assert.EqualValues(t, 2, snap.TimedOut)
	assert.EqualValues(t, 1, snap.Serviced)
	assert.EqualValues(t, 0, snap.Pending)
	assert.EqualValues(t, 2, snap.Unrelated, "late response counts as unrelated")
	assert.Equal(t, 59*time.Second, snap.MaxLatency)
	assert.Equal(t, at(3*time.Minute+59*time.Second), snap.Taken)
	assert.Positive(t, out.res.Sweeps)
}

func TestRunnerRecordedTimelineKeepsExactMaxWait(t *testing.T) {
	h := newHarness()
	opt := h.options()
	opt.Source = recordedSource{h.source}

	base := h.clock.Now()
	h.source.msgs <- probe.Message{Subject: "svc", ReplyTo: "_R1", ReceivedAt: base}
	h.source.msgs <- probe.Message{Subject: "noise", ReceivedAt: base.Add(5 * time.Second)}
	close(h.source.msgs)

	out := wait(t, start(context.Background(), opt))
	require.NoError(t, out.err)
	assert.EqualValues(t, 0, out.res.Snapshot.TimedOut, "exactly max wait old is not expired")
	assert.EqualValues(t, 1, out.res.Snapshot.Pending)
}

func TestRunnerHonorsDuration(t *testing.T) {
	h := newHarness()
	opt := h.options()
	opt.Duration = 10 * time.Second

	done := start(context.Background(), opt)
	h.source.msgs <- probe.Message{Subject: "svc", ReplyTo: "_R"}
	require.Eventually(t, func() bool { return h.engine.PendingCount() == 1 }, time.Second, time.Millisecond)

	h.clock.Add(10 * time.Second)
	out := wait(t, done)
	require.NoError(t, out.err)
	assert.Equal(t, 10*time.Second, out.res.Duration)
}

func TestRunnerRequiresDependencies(t *testing.T) {
	_, err := runner.New(runner.Options{}).Run(context.Background())
	assert.ErrorIs(t, err, runner.ErrMissingDependency)
}

func TestSinkFunc(t *testing.T) {
	var got metrics.Snapshot
	var sink runner.Sink = runner.SinkFunc(func(s metrics.Snapshot) { got = s })
	sink.Publish(metrics.Snapshot{Total: 3})
	assert.EqualValues(t, 3, got.Total)
}
