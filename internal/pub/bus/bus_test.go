package bus_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/pubsub"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/bus"
)

func TestConfigURL(t *testing.T) {
	assert.Equal(t, "mem://orders", bus.Config{URLTemplate: "mem://%s"}.URL("orders"))
}

func TestNewTransportRequiresTemplate(t *testing.T) {
	_, err := bus.NewTransport(bus.Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestPublishToMemTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic := "bus-test-" + xid.New().String()
	tr, err := bus.NewTransport(bus.Config{URLTemplate: "mem://%s"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { assert.NoError(t, tr.Shutdown(context.Background())) }()

	require.NoError(t, tr.Open(ctx, topic))
	sub, err := pubsub.OpenSubscription(ctx, "mem://"+topic)
	require.NoError(t, err)
	defer sub.Shutdown(context.Background())

	msgs := []pub.Message{
		{Data: []byte("a"), Attributes: map[string]string{"kind": "order"}},
		{Data: []byte("b")},
		{Data: []byte("c")},
	}
	ids, err := tr.Publish(ctx, topic, "cust-1", msgs...)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Len(t, map[string]bool{ids[0]: true, ids[1]: true, ids[2]: true}, 3)

	got := make(map[string]*pubsub.Message)
	for range msgs {
		m, err := sub.Receive(ctx)
		require.NoError(t, err)
		m.Ack()
		got[string(m.Body)] = m
	}

	for i, want := range []string{"a", "b", "c"} {
		m, ok := got[want]
		require.True(t, ok, "missing %s", want)
		assert.Equal(t, ids[i], m.Metadata[bus.MessageIDKey])
		assert.Equal(t, "cust-1", m.Metadata[bus.OrderingKeyKey])
	}
	assert.Equal(t, "order", got["a"].Metadata["kind"])
}

func TestPublishUnorderedOmitsOrderingKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic := fmt.Sprintf("bus-test-%s", xid.New())
	tr, err := bus.NewTransport(bus.Config{URLTemplate: "mem://%s"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, tr.Open(ctx, topic))
	sub, err := pubsub.OpenSubscription(ctx, "mem://"+topic)
	require.NoError(t, err)
	defer sub.Shutdown(context.Background())

	_, err = tr.Publish(ctx, topic, "", pub.Message{Data: []byte("x")})
	require.NoError(t, err)

	m, err := sub.Receive(ctx)
	require.NoError(t, err)
	m.Ack()
	_, ok := m.Metadata[bus.OrderingKeyKey]
	assert.False(t, ok)
}
