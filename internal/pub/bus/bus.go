// Package bus implements pub.Transport on Go CDK pubsub topics, so the
// publisher can send to any broker gocloud.dev has a driver for. Only the
// in-memory driver is registered here; importing another driver package
// makes its URL scheme available.
package bus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub" // required for in-memory pubsub driver registration

	"asyncpub/internal/pub"
	"asyncpub/internal/validator"
)

// Metadata keys set on every sent message.
const (
	MessageIDKey   = "message_id"
	OrderingKeyKey = "ordering_key"
)

const defaultShutdownTimeout = 30 * time.Second

// Config selects the broker. URLTemplate gets the topic name through
// fmt.Sprintf, e.g. "mem://%s" or "nats://%s".
type Config struct {
	URLTemplate string `env:"BUS_URL_TEMPLATE" envDefault:"mem://%s"`
}

// URL returns the broker URL for topic.
func (c Config) URL(topic string) string {
	return fmt.Sprintf(c.URLTemplate, topic)
}

// Transport sends each request's messages one after another on the topic,
// so a broker that preserves send order sees ordered keys in order.
type Transport struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewTransport(cfg Config, logger *zap.Logger) (*Transport, error) {
	if err := validator.Validate("bus", cfg.URLTemplate, logger); err != nil {
		return nil, fmt.Errorf("failed to validate bus deps: %w", err)
	}

	return &Transport{
		cfg:    cfg,
		logger: logger.Named("bus"),
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Open opens topics ahead of the first publish. The in-memory driver only
// lets subscriptions attach to topics that are already open.
func (t *Transport) Open(ctx context.Context, topics ...string) error {
	for _, name := range topics {
		if _, err := t.topic(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if topic, ok := t.topics[name]; ok {
		return topic, nil
	}

	url := t.cfg.URL(name)
	topic, err := pubsub.OpenTopic(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open topic %s: %w", url, err)
	}
	t.topics[name] = topic
	t.logger.Debug("opened topic", zap.String("url", url))

	return topic, nil
}

// Publish implements pub.Transport. Message IDs are generated here and
// travel in the MessageIDKey metadata entry.
func (t *Transport) Publish(ctx context.Context, topicName, orderingKey string, msgs ...pub.Message) ([]string, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	topic, err := t.topic(ctx, topicName)
	if err != nil {
		return nil, err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		id := xid.New().String()

		metadata := make(map[string]string, len(m.Attributes)+len(carrier)+2)
		maps.Copy(metadata, carrier)
		maps.Copy(metadata, m.Attributes)
		metadata[MessageIDKey] = id
		if orderingKey != "" {
			metadata[OrderingKeyKey] = orderingKey
		}

		if err := topic.Send(ctx, &pubsub.Message{
			Body:     m.Data,
			Metadata: metadata,
		}); err != nil {
			return nil, fmt.Errorf("failed to send message %d of %d to topic %s: %w", len(ids)+1, len(msgs), topicName, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// Shutdown flushes and closes every opened topic. In-memory topics are left
// open since the driver shares them by name across the process.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	topics := t.topics
	t.topics = make(map[string]*pubsub.Topic)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	var errs []error
	for name, topic := range topics {
		if strings.HasPrefix(strings.ToLower(t.cfg.URL(name)), "mem://") {
			continue
		}
		if err := topic.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down topic %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}
