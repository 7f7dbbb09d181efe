// Package bus adapts message transports to the probe.
//
// [NATSSource] subscribes to a NATS subject (all traffic by default) and turns
// each delivery into a probe.Message, flagging failed responses from their
// headers. [ReplaySource] plays back recorded traffic from JSON-lines or CSV
// files. [ChannelSource] wraps a Go channel.
package bus
