// Package couchbase wraps a Couchbase collection as a typed document store.
// Documents embedding Cas get their CAS filled on reads and writes, and
// replaces are conditional on it.
package couchbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"
)

// Couchbase stores documents of type T in one collection.
type Couchbase[T any] struct {
	cluster    *gocb.Cluster
	bucket     *gocb.Bucket
	collection *gocb.Collection
}

// NewCouchbase returns a store for collection. All arguments are required.
func NewCouchbase[T any](cluster *gocb.Cluster, bucket *gocb.Bucket, collection *gocb.Collection) (*Couchbase[T], error) {
	if cluster == nil || bucket == nil || collection == nil {
		return nil, errors.New("invalid Couchbase parameters: cluster, bucket, and collection must not be nil")
	}

	return &Couchbase[T]{
		cluster:    cluster,
		bucket:     bucket,
		collection: collection,
	}, nil
}

// Insert creates the document at key. It fails with an error wrapping
// gocb.ErrDocumentExists when key is taken.
func (c *Couchbase[T]) Insert(ctx context.Context, key string, v *T, opts *gocb.InsertOptions) error {
	if opts == nil {
		opts = new(gocb.InsertOptions)
	}
	opts.Context = ctx

	res, err := c.collection.Insert(key, v, opts)
	if err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}
	setCas(v, res.Cas())

	return nil
}

// Get loads the document at key.
func (c *Couchbase[T]) Get(ctx context.Context, key string, opts *gocb.GetOptions) (*T, error) {
	if opts == nil {
		opts = new(gocb.GetOptions)
	}
	opts.Context = ctx

	res, err := c.collection.Get(key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get document with key %s: %w", key, err)
	}

	v := new(T)
	if err := res.Content(v); err != nil {
		return nil, fmt.Errorf("failed to parse document content for key %s: %w", key, err)
	}
	setCas(v, res.Cas())

	return v, nil
}

// Replace overwrites the document at key. When v carries a CAS the write
// only succeeds if the stored document still has it.
func (c *Couchbase[T]) Replace(ctx context.Context, key string, v *T, opts *gocb.ReplaceOptions) error {
	if opts == nil {
		opts = new(gocb.ReplaceOptions)
	}
	opts.Context = ctx
	if opts.Cas == 0 {
		opts.Cas = getCas(v)
	}

	res, err := c.collection.Replace(key, v, opts)
	if err != nil {
		return fmt.Errorf("failed to replace document with key %s: %w", key, err)
	}
	setCas(v, res.Cas())

	return nil
}

// Query runs a SQL++ statement and decodes each row into T. Pass values
// through opts.NamedParameters rather than formatting them into query.
func (c *Couchbase[T]) Query(ctx context.Context, query string, opts *gocb.QueryOptions) ([]T, error) {
	if opts == nil {
		opts = new(gocb.QueryOptions)
	}
	opts.Context = ctx

	result, err := c.cluster.Query(query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer result.Close()

	var items []T
	for result.Next() {
		var item T
		if err := result.Row(&item); err != nil {
			return nil, fmt.Errorf("failed to parse query row: %w", err)
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query rows: %w", err)
	}

	return items, nil
}

// Keyspace returns the fully qualified bucket.scope.collection name, escaped
// for use in queries.
func (c *Couchbase[T]) Keyspace() string {
	return Keyspace(c.bucket.Name(), c.collection.ScopeName(), c.collection.Name())
}

// Keyspace escapes a bucket.scope.collection path for SQL++.
func Keyspace(bucket, scope, collection string) string {
	return fmt.Sprintf("`%s`.`%s`.`%s`", bucket, scope, collection)
}

// Collection returns the underlying collection.
func (c *Couchbase[T]) Collection() *gocb.Collection {
	return c.collection
}

// Close closes the cluster connection shared by every store built on it.
func (c *Couchbase[T]) Close() error {
	return c.cluster.Close(nil)
}
