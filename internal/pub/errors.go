package pub

import (
	"errors"
	"fmt"
)

var (
	// ErrPublisherStopped is returned when a message is added after the
	// publisher (or the batch for its ordering key) began its final drain.
	ErrPublisherStopped = errors.New("publisher is stopped")

	// ErrOrderingKey is returned when an ordering key failed to publish and
	// has not been resumed yet.
	ErrOrderingKey = errors.New("ordering key is canceled")

	// ErrOrderedMessagesDisabled is returned when a message carries an
	// ordering key but message ordering was not enabled on the publisher.
	ErrOrderedMessagesDisabled = errors.New("message ordering is not enabled")

	// ErrFlowControlLimit is returned when publisher flow control limits
	// would be exceeded.
	ErrFlowControlLimit = errors.New("flow control limit exceeded")
)

// OrderingKeyError wraps ErrOrderingKey with the offending key.
func OrderingKeyError(orderingKey string) error {
	return fmt.Errorf("%w: %q", ErrOrderingKey, orderingKey)
}
