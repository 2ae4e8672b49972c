package controller

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/tracing"
)

// TracedController wraps a pub.Controller with distributed tracing
// Layer order: TracedController -> MetricsController -> Controller (real thing)
type TracedController struct {
	controller pub.Controller
	tracer     *tracing.Tracer
}

// NewTracedController creates a new traced controller that wraps a metrics controller
func NewTracedController(controller pub.Controller, tracer *tracing.Tracer) pub.Controller {
	return &TracedController{
		controller: controller,
		tracer:     tracer,
	}
}

func (c *TracedController) start(ctx context.Context, operation, topic, orderingKey string) (context.Context, trace.Span) {
	ctx, span := c.tracer.StartSpan(ctx, "controller."+operation)
	span.SetAttributes(c.tracer.DatabaseAttributes(operation)...)
	span.SetAttributes(c.tracer.PubAttributes(topic, orderingKey)...)
	return ctx, span
}

func (c *TracedController) finish(ctx context.Context, span trace.Span, err error) {
	if err != nil {
		c.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(c.tracer.ErrorAttributes(err)...)
}

func (c *TracedController) GetOffset(ctx context.Context, topic, orderingKey string) (uint64, error) {
	ctx, span := c.start(ctx, "get_offset", topic, orderingKey)
	defer span.End()

	offset, err := c.controller.GetOffset(ctx, topic, orderingKey)
	if err == nil {
		span.SetAttributes(attribute.Int64("pub.offset", int64(offset)))
	}
	c.finish(ctx, span, err)

	return offset, err
}

// CommitOffset has no caller context; its span is a new root.
func (c *TracedController) CommitOffset(topic, orderingKey string, next uint64) error {
	ctx, span := c.start(context.Background(), "commit_offset", topic, orderingKey)
	defer span.End()

	span.SetAttributes(attribute.Int64("pub.offset", int64(next)))
	err := c.controller.CommitOffset(topic, orderingKey, next)
	c.finish(ctx, span, err)

	return err
}

func (c *TracedController) InsertMessage(ctx context.Context, record pub.Record) error {
	ctx, span := c.start(ctx, "insert_message", record.Topic, record.OrderingKey)
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.message.id", record.ID),
		attribute.Int64("pub.offset", int64(record.Offset)),
	)
	err := c.controller.InsertMessage(ctx, record)
	c.finish(ctx, span, err)

	return err
}

func (c *TracedController) ReplaceMessage(ctx context.Context, record pub.Record) error {
	ctx, span := c.start(ctx, "replace_message", record.Topic, record.OrderingKey)
	defer span.End()

	c.tracer.WithAttributes(ctx,
		attribute.String("messaging.message.id", record.ID),
		attribute.Int64("pub.offset", int64(record.Offset)),
	)
	err := c.controller.ReplaceMessage(ctx, record)
	c.finish(ctx, span, err)

	return err
}

func (c *TracedController) LoadMessages(ctx context.Context, topic, orderingKey string, fromOffset uint64, limit int) ([]pub.Record, error) {
	ctx, span := c.start(ctx, "load_messages", topic, orderingKey)
	defer span.End()

	span.SetAttributes(
		attribute.Int64("pub.from_offset", int64(fromOffset)),
		attribute.Int("pub.limit", limit),
	)
	records, err := c.controller.LoadMessages(ctx, topic, orderingKey, fromOffset, limit)
	if err == nil {
		c.tracer.WithAttributes(ctx, attribute.Int("pub.loaded_count", len(records)))
	}
	c.finish(ctx, span, err)

	return records, err
}
