package producer

import (
	"context"
	"time"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/metrics"
)

// MetricsTransport wraps a pub.Transport with metrics collection
type MetricsTransport struct {
	transport pub.Transport
	registry  *metrics.Registry
}

// NewMetricsTransport creates a new instrumented transport
func NewMetricsTransport(transport pub.Transport, registry *metrics.Registry) pub.Transport {
	return &MetricsTransport{
		transport: transport,
		registry:  registry,
	}
}

// Publish implements pub.Transport.Publish with metrics collection
func (t *MetricsTransport) Publish(ctx context.Context, topic, orderingKey string, msgs ...pub.Message) ([]string, error) {
	start := time.Now()

	ids, err := t.transport.Publish(ctx, topic, orderingKey, msgs...)
	t.registry.RecordTransportPublish(topic, orderingKey, len(msgs), time.Since(start), err)

	return ids, err
}
