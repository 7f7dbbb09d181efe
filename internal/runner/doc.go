// Package runner drives a probe session.
//
// A [Runner] runs two goroutines against one [probe.Engine]:
//   - ingestion pulls messages from a [bus.Source] and hands them to Engine.Observe,
//   - the sweeper expires stale requests on every tick and publishes a snapshot
//     to each registered [Sink].
//
// A source replaying a recorded timeline ([bus.Recorded]) is swept on message
// time by the ingestion goroutine instead; the tick then only publishes.
//
// The run ends when the context is cancelled, when Options.Duration elapses,
// or when the source reports io.EOF. A source failure ends the run and is
// returned from Run. Requests still pending at that point are not drained.
//
//	r := runner.New(runner.Options{
//		Source:  src,
//		Engine:  probe.NewEngine(probe.Options{MaxLatency: time.Minute}),
//		MaxWait: time.Minute,
//		Sinks:   []runner.Sink{progress},
//	})
//	res, err := r.Run(ctx)
package runner
