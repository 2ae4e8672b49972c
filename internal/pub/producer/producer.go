// Package producer implements pub.Transport by appending messages to per
// ordering key logs kept by a pub.Controller, and provides the metrics and
// tracing decorators shared by every transport.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"

	"asyncpub/internal/pub"
	"asyncpub/internal/validator"
)

// Producer writes each request as consecutive records of the ordering key's
// log, then advances the log's offset. The publisher never runs two
// requests for the same ordering key at once, which keeps offsets gap free.
type Producer struct {
	controller pub.Controller
	logger     *zap.Logger
	now        func() time.Time
}

func NewProducer(controller pub.Controller, logger *zap.Logger) (*Producer, error) {
	if err := validator.Validate("producer", controller, logger); err != nil {
		return nil, fmt.Errorf("failed to validate producer deps: %w", err)
	}

	return &Producer{
		controller: controller,
		logger:     logger.Named("producer"),
		now:        time.Now,
	}, nil
}

// Publish implements pub.Transport. The returned IDs are the record IDs.
func (p *Producer) Publish(ctx context.Context, topic, orderingKey string, msgs ...pub.Message) ([]string, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	offset, err := p.controller.GetOffset(ctx, topic, orderingKey)
	switch {
	case err == nil:
	case errors.Is(err, gocb.ErrDocumentNotFound):
		offset = 0
	default:
		return nil, fmt.Errorf("failed to get offset for topic %s key %q: %w", topic, orderingKey, err)
	}

	publishTime := p.now().UTC()
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		r := pub.Record{
			ID:          pub.RecordKey(topic, orderingKey, offset),
			Topic:       topic,
			OrderingKey: orderingKey,
			Offset:      offset,
			Data:        m.Data,
			Attributes:  m.Attributes,
			PublishTime: &publishTime,
		}

		if err := p.insert(ctx, r); err != nil {
			return nil, err
		}

		ids = append(ids, r.ID)
		offset++
	}

	if err := p.controller.CommitOffset(topic, orderingKey, offset); err != nil {
		return nil, fmt.Errorf("failed to commit offset for topic %s key %q: %w", topic, orderingKey, err)
	}

	p.logger.Debug("appended messages",
		zap.String("topic", topic),
		zap.String("orderingKey", orderingKey),
		zap.Uint64("nextOffset", offset),
		zap.Int("count", len(msgs)),
	)

	return ids, nil
}

// insert stores r. A record already at r's offset was left by a request that
// failed before committing, so its callbacks saw an error and it is replaced.
func (p *Producer) insert(ctx context.Context, r pub.Record) error {
	err := p.controller.InsertMessage(ctx, r)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, gocb.ErrDocumentExists):
		return fmt.Errorf("failed to insert message with ID %s: %w", r.ID, err)
	}

	p.logger.Warn("replacing uncommitted record",
		zap.String("id", r.ID),
		zap.Uint64("offset", r.Offset),
	)
	if err := p.controller.ReplaceMessage(ctx, r); err != nil {
		return fmt.Errorf("failed to replace message with ID %s: %w", r.ID, err)
	}

	return nil
}
