package controller

import (
	"context"
	"time"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/metrics"
)

// MetricsController wraps a pub.Controller with metrics collection
type MetricsController struct {
	controller pub.Controller
	registry   *metrics.Registry
}

// NewMetricsController creates a new instrumented controller
func NewMetricsController(controller pub.Controller, registry *metrics.Registry) pub.Controller {
	return &MetricsController{
		controller: controller,
		registry:   registry,
	}
}

func (c *MetricsController) GetOffset(ctx context.Context, topic, orderingKey string) (uint64, error) {
	start := time.Now()
	offset, err := c.controller.GetOffset(ctx, topic, orderingKey)
	c.registry.RecordDatabaseOperation("get_offset", time.Since(start), err)

	return offset, err
}

func (c *MetricsController) CommitOffset(topic, orderingKey string, next uint64) error {
	start := time.Now()
	err := c.controller.CommitOffset(topic, orderingKey, next)
	c.registry.RecordDatabaseOperation("commit_offset", time.Since(start), err)

	return err
}

func (c *MetricsController) InsertMessage(ctx context.Context, record pub.Record) error {
	start := time.Now()
	err := c.controller.InsertMessage(ctx, record)
	c.registry.RecordDatabaseOperation("insert_message", time.Since(start), err)

	return err
}

func (c *MetricsController) ReplaceMessage(ctx context.Context, record pub.Record) error {
	start := time.Now()
	err := c.controller.ReplaceMessage(ctx, record)
	c.registry.RecordDatabaseOperation("replace_message", time.Since(start), err)

	return err
}

func (c *MetricsController) LoadMessages(ctx context.Context, topic, orderingKey string, fromOffset uint64, limit int) ([]pub.Record, error) {
	start := time.Now()
	records, err := c.controller.LoadMessages(ctx, topic, orderingKey, fromOffset, limit)
	c.registry.RecordDatabaseOperation("load_messages", time.Since(start), err)

	return records, err
}
