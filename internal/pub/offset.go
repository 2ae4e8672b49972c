package pub

import (
	"github.com/couchbase/gocb/v2"

	"asyncpub/internal/couchbase"
)

// Offset is the next write position of an ordering key's log.
type Offset struct {
	ID          string `json:"id"`
	Topic       string `json:"topic"`
	OrderingKey string `json:"orderingKey"`
	N           uint64 `json:"n"`

	couchbase.Cas `json:"-"`
}

func NewOffsetsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Couchbase[Offset], error) {
	collection := bucket.Scope(scope).Collection("offsets")
	store, err := couchbase.NewCouchbase[Offset](cluster, bucket, collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}
