package couchbase

import (
	"testing"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
)

type doc struct {
	Name string `json:"name"`
	Cas  `json:"-"`
}

func TestCasHelpers(t *testing.T) {
	d := &doc{Name: "a"}
	assert.Equal(t, gocb.Cas(0), getCas(d))

	setCas(d, 42)
	assert.Equal(t, gocb.Cas(42), d.GetCas())
	assert.Equal(t, gocb.Cas(42), getCas(d))

	// values without Cas are left alone
	setCas(&struct{}{}, 7)
	assert.Equal(t, gocb.Cas(0), getCas(struct{}{}))
}

func TestKeyspace(t *testing.T) {
	assert.Equal(t, "`pubsub`.`default`.`messages`", Keyspace("pubsub", "default", "messages"))
}

func TestNewCouchbaseRequiresDeps(t *testing.T) {
	_, err := NewCouchbase[doc](nil, nil, nil)
	assert.Error(t, err)

	_, err = NewTransactions(nil)
	assert.Error(t, err)
}
