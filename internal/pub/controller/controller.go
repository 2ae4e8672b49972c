// Package controller persists the per ordering key message logs written by
// the log-backed transport.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"asyncpub/internal/couchbase"
	"asyncpub/internal/pub"
	"asyncpub/internal/validator"
)

// DefaultRetention is how long stored records live before Couchbase expires them.
const DefaultRetention = 7 * 24 * time.Hour

// Controller implements pub.Controller on Couchbase. Offsets are advanced
// inside distributed transactions; records are plain inserts keyed by
// offset so a retried write cannot duplicate them.
type Controller struct {
	messages     *couchbase.Couchbase[pub.Record]
	offsets      *couchbase.Couchbase[pub.Offset]
	transactions *couchbase.Transactions
	retention    time.Duration
}

func NewController(
	messages *couchbase.Couchbase[pub.Record],
	offsets *couchbase.Couchbase[pub.Offset],
	transactions *couchbase.Transactions,
	retention time.Duration,
) (*Controller, error) {
	c := Controller{
		messages:     messages,
		offsets:      offsets,
		transactions: transactions,
		retention:    retention,
	}

	if err := validator.Validate(
		"controller",
		c.messages,
		c.offsets,
		c.transactions,
		c.retention,
	); err != nil {
		return nil, fmt.Errorf("failed to validate controller dependencies: %w", err)
	}

	return &c, nil
}

// GetOffset returns the next offset to write for an ordering key.
func (c *Controller) GetOffset(ctx context.Context, topic, orderingKey string) (uint64, error) {
	offset, err := c.offsets.Get(ctx, pub.OffsetKey(topic, orderingKey), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get offset: %w", err)
	}

	return offset.N, nil
}

// CommitOffset moves the write offset forward. An offset at or behind the
// stored one is ignored.
func (c *Controller) CommitOffset(topic, orderingKey string, next uint64) error {
	key := pub.OffsetKey(topic, orderingKey)

	_, err := c.transactions.Transaction(func(r couchbase.TransactionRunner) error {
		for {
			res, err := r.Get(c.offsets, key)
			switch {
			case err == nil:
			case errors.Is(err, gocb.ErrDocumentNotFound):
				offset := pub.Offset{ID: key, Topic: topic, OrderingKey: orderingKey, N: next}
				_, err := r.Insert(c.offsets, key, offset)
				switch {
				case err == nil:
					return nil
				case errors.Is(err, gocb.ErrDocumentExists):
					// lost the race to create it, read it back
					continue
				default:
					return fmt.Errorf("failed to insert new offset: %w", err)
				}
			default:
				return fmt.Errorf("failed to get offset: %w", err)
			}

			var existing pub.Offset
			if err := res.Content(&existing); err != nil {
				return fmt.Errorf("failed to decode offset: %w", err)
			}
			if next <= existing.N {
				return nil
			}

			existing.N = next
			if _, err := r.Replace(res, existing); err != nil {
				return fmt.Errorf("failed to replace offset: %w", err)
			}
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("failed to commit offset for topic %s key %q: %w", topic, orderingKey, err)
	}

	return nil
}

// InsertMessage stores a record under its ID.
func (c *Controller) InsertMessage(ctx context.Context, record pub.Record) error {
	if err := c.messages.Insert(ctx, record.ID, &record, &gocb.InsertOptions{
		Expiry: c.retention,
	}); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// ReplaceMessage overwrites the record stored under its ID.
func (c *Controller) ReplaceMessage(ctx context.Context, record pub.Record) error {
	if err := c.messages.Replace(ctx, record.ID, &record, &gocb.ReplaceOptions{
		Expiry: c.retention,
	}); err != nil {
		return fmt.Errorf("failed to replace message: %w", err)
	}

	return nil
}

// LoadMessages returns up to limit records of an ordering key starting at
// fromOffset, in offset order.
func (c *Controller) LoadMessages(ctx context.Context, topic, orderingKey string, fromOffset uint64, limit int) ([]pub.Record, error) {
	records, err := c.messages.Query(ctx, loadMessagesQuery(c.messages.Keyspace()), &gocb.QueryOptions{
		NamedParameters: map[string]any{
			"topic":       topic,
			"orderingKey": orderingKey,
			"fromOffset":  fromOffset,
			"limit":       limit,
		},
		ScanConsistency: gocb.QueryScanConsistencyRequestPlus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	return records, nil
}

func loadMessagesQuery(keyspace string) string {
	return fmt.Sprintf(`
		SELECT RAW m
		FROM %s m
		WHERE m.topic = $topic
		AND m.orderingKey = $orderingKey
		AND m.%s >= $fromOffset
		ORDER BY m.%s ASC
		LIMIT $limit`,
		keyspace,
		"`offset`",
		"`offset`",
	)
}
