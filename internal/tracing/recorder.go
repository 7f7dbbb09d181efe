package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/busprobe/internal/probe"
)

// ExchangeRecorder turns resolved exchanges into client spans. It implements
// probe.Listener.
//
// Spans are reconstructed after the fact: start and end timestamps come from
// the observed request and response, not from when the span is recorded.
type ExchangeRecorder struct {
	tracer trace.Tracer
}

func NewExchangeRecorder(tracer trace.Tracer) *ExchangeRecorder {
	return &ExchangeRecorder{tracer: tracer}
}

func (r *ExchangeRecorder) OnServiced(ex probe.Exchange) {
	r.record(ex)
}

func (r *ExchangeRecorder) OnTimedOut(ex probe.Exchange) {
	r.record(ex)
}

func (r *ExchangeRecorder) record(ex probe.Exchange) {
	name := ex.Subject
	if name == "" {
		name = "request"
	}
	_, span := r.tracer.Start(context.Background(), name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(ex.StartedAt),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", ex.Subject),
			attribute.String("busprobe.reply_to", ex.Key),
			attribute.Float64("busprobe.latency_ms", float64(ex.Latency)/1e6),
		),
	)

	switch {
	case ex.TimedOut:
		span.SetAttributes(attribute.Bool("busprobe.timed_out", true))
		span.SetStatus(codes.Error, "no response before max wait")
	case ex.Error:
		span.SetStatus(codes.Error, "error response")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(ex.EndedAt))
}
