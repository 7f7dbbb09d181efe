// Package probe infers request/response pairs from bus traffic.
//
// Every observed [Message] is classified by the [Engine]:
//   - a response, when its subject equals the reply address of a pending request,
//   - a request, when it carries a reply address,
//   - unrelated traffic otherwise.
//
// Requests wait in a pending table keyed by reply address until a response
// arrives or a periodic [Engine.Sweep] finds them older than the max wait.
// Each request is accounted exactly once: serviced or timed out.
//
// A request that reuses the reply address of an unresolved request replaces
// it. The displaced request is never counted as serviced or timed out; it only
// shows up in the Overwritten counter.
//
//	engine := probe.NewEngine(probe.Options{MaxLatency: time.Minute})
//	engine.Observe(msg, time.Now())
//	engine.Sweep(time.Now(), time.Minute)
//	snap := engine.Snapshot(time.Now())
package probe
