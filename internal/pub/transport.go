package pub

import "context"

// Transport sends a batch of messages for one ordering key in a single call.
type Transport interface {
	// Publish sends msgs in order and returns their message IDs, index
	// aligned with msgs. An error means none of the messages may be
	// considered published.
	Publish(ctx context.Context, topic, orderingKey string, msgs ...Message) ([]string, error)
}
