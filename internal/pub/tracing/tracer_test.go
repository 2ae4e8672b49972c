package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"asyncpub/internal/pub/tracing"
)

func TestNewTracerDisabled(t *testing.T) {
	tracer, cleanup, err := tracing.NewTracer(tracing.Config{ServiceName: "test"})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	assert.NoError(t, cleanup(context.Background()))

	_, span := tracer.StartSpan(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestTracerRecordsErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tracing.NewTracerFromProvider("test", tp)

	ctx, span := tracer.StartSpan(context.Background(), "publisher.publish")
	span.SetAttributes(tracer.PublishAttributes("orders", "cust-1", 3)...)
	tracer.RecordError(ctx, errors.New("unavailable"))
	span.SetAttributes(tracer.ErrorAttributes(errors.New("unavailable"))...)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	attrs := attribute.NewSet(spans[0].Attributes()...)
	key, ok := attrs.Value("pub.ordering_key")
	require.True(t, ok)
	assert.Equal(t, "cust-1", key.AsString())
	count, ok := attrs.Value("messaging.batch.message_count")
	require.True(t, ok)
	assert.EqualValues(t, 3, count.AsInt64())
	failed, ok := attrs.Value("error")
	require.True(t, ok)
	assert.True(t, failed.AsBool())
	assert.Equal(t, "unavailable", spans[0].Status().Description)
}

func TestErrorAttributesSuccess(t *testing.T) {
	tracer := tracing.NewTracerFromProvider("test", sdktrace.NewTracerProvider())
	attrs := attribute.NewSet(tracer.ErrorAttributes(nil)...)
	v, ok := attrs.Value("error")
	require.True(t, ok)
	assert.False(t, v.AsBool())
}
