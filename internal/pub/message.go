package pub

import (
	"sort"
	"time"

	"github.com/couchbase/gocb/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"asyncpub/internal/couchbase"
)

// Field numbers of the pubsub wire messages used for size accounting.
const (
	requestTopicField      protowire.Number = 1
	requestMessagesField   protowire.Number = 2
	messageDataField       protowire.Number = 1
	messageAttributesField protowire.Number = 2
	messageOrderingField   protowire.Number = 5
	mapKeyField            protowire.Number = 1
	mapValueField          protowire.Number = 2
)

// Message is an outbound message accepted for asynchronous publication.
type Message struct {
	Data        []byte            `json:"data,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OrderingKey string            `json:"orderingKey,omitempty"`
}

// Size returns the serialized size of the message in bytes.
func (m Message) Size() int {
	n := 0
	if len(m.Data) > 0 {
		n += protowire.SizeTag(messageDataField) + protowire.SizeBytes(len(m.Data))
	}

	keys := make([]string, 0, len(m.Attributes))
	for k := range m.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := protowire.SizeTag(mapKeyField) + protowire.SizeBytes(len(k)) +
			protowire.SizeTag(mapValueField) + protowire.SizeBytes(len(m.Attributes[k]))
		n += protowire.SizeTag(messageAttributesField) + protowire.SizeBytes(entry)
	}

	if m.OrderingKey != "" {
		n += protowire.SizeTag(messageOrderingField) + protowire.SizeBytes(len(m.OrderingKey))
	}

	return n
}

// EnvelopeSize returns the bytes a message of the given size adds to a
// publish request, including its field tag and length prefix.
func EnvelopeSize(messageSize int) int {
	return protowire.SizeTag(requestMessagesField) + protowire.SizeBytes(messageSize)
}

// RequestOverhead returns the fixed size of a publish request for topic
// before any message is added.
func RequestOverhead(topic string) int {
	return protowire.SizeTag(requestTopicField) + protowire.SizeBytes(len(topic))
}

// Record is the persisted form of a published message.
type Record struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	OrderingKey string            `json:"orderingKey"`
	Offset      uint64            `json:"offset"`
	Data        []byte            `json:"data,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime *time.Time        `json:"publishTime,omitempty"`

	couchbase.Cas `json:"-"`
}

func NewRecordsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[Record], error) {
	collection := bucket.Scope(scope).Collection("messages")
	store, err := couchbase.NewCouchbase[Record](cluster, bucket, collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}
