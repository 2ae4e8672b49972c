// Package pub holds the types shared by the asynchronous publisher, its
// batching engine and the transports it publishes through.
package pub

import "fmt"

// Document keys tag the ordering key segment so no ordering key, "_" or "u"
// included, can land on the unordered log.
const (
	unorderedSegment = "u"
	orderedPrefix    = "k:"
)

func keySegment(orderingKey string) string {
	if orderingKey == "" {
		return unorderedSegment
	}
	return orderedPrefix + orderingKey
}

func RecordKey(topic, orderingKey string, offset uint64) string {
	return fmt.Sprintf("message::%s::%s::%d", topic, keySegment(orderingKey), offset)
}

func OffsetKey(topic, orderingKey string) string {
	return fmt.Sprintf("offset::%s::%s", topic, keySegment(orderingKey))
}
