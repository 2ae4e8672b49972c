package producer

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/tracing"
)

// TracedTransport wraps a pub.Transport with distributed tracing
// Layer order: TracedTransport -> MetricsTransport -> transport (real thing)
type TracedTransport struct {
	transport pub.Transport
	tracer    *tracing.Tracer
}

// NewTracedTransport creates a new traced transport that wraps a metrics transport
func NewTracedTransport(transport pub.Transport, tracer *tracing.Tracer) pub.Transport {
	return &TracedTransport{
		transport: transport,
		tracer:    tracer,
	}
}

// Publish implements pub.Transport.Publish with distributed tracing
func (t *TracedTransport) Publish(ctx context.Context, topic, orderingKey string, msgs ...pub.Message) ([]string, error) {
	ctx, span := t.tracer.StartSpan(ctx, "transport.publish")
	defer span.End()

	span.SetAttributes(t.tracer.PublishAttributes(topic, orderingKey, len(msgs))...)

	ids, err := t.transport.Publish(ctx, topic, orderingKey, msgs...)
	if err != nil {
		t.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(t.tracer.ErrorAttributes(err)...)

	return ids, err
}
