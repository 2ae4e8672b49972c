package pub_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncpub/internal/pub"
)

func TestMessageSize(t *testing.T) {
	tests := []struct {
		name string
		msg  pub.Message
		want int
	}{
		{name: "empty", msg: pub.Message{}, want: 0},
		{name: "data", msg: pub.Message{Data: []byte("hello world")}, want: 13},
		{name: "attribute", msg: pub.Message{Attributes: map[string]string{"k": "v"}}, want: 8},
		{name: "ordering key", msg: pub.Message{OrderingKey: "abc"}, want: 5},
		{
			name: "all fields",
			msg: pub.Message{
				Data:        []byte("hello world"),
				Attributes:  map[string]string{"k": "v", "kk": "vv"},
				OrderingKey: "abc",
			},
			want: 13 + 8 + 10 + 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Size())
		})
	}
}

func TestEnvelopeSize(t *testing.T) {
	assert.Equal(t, 15, pub.EnvelopeSize(13))
	// length prefix grows to two bytes past 127
	assert.Equal(t, 1+2+200, pub.EnvelopeSize(200))
	assert.Equal(t, 22, pub.RequestOverhead("topic-name-goes-here"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "message::orders::u::3", pub.RecordKey("orders", "", 3))
	assert.Equal(t, "message::orders::k:cust-1::3", pub.RecordKey("orders", "cust-1", 3))
	assert.Equal(t, "offset::orders::u", pub.OffsetKey("orders", ""))
	assert.Equal(t, "offset::orders::k:cust-1", pub.OffsetKey("orders", "cust-1"))
}

func TestKeysKeepUnorderedLogApart(t *testing.T) {
	for _, key := range []string{"_", "u", "k:", "k:u"} {
		assert.NotEqual(t, pub.RecordKey("orders", "", 0), pub.RecordKey("orders", key, 0), "ordering key %q", key)
		assert.NotEqual(t, pub.OffsetKey("orders", ""), pub.OffsetKey("orders", key), "ordering key %q", key)
	}
	assert.NotEqual(t, pub.OffsetKey("orders", "u"), pub.OffsetKey("orders", "k:u"))
}

func TestOrderingKeyError(t *testing.T) {
	err := pub.OrderingKeyError("abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pub.ErrOrderingKey))
	assert.Contains(t, err.Error(), `"abc"`)
}

func TestResultSucceeded(t *testing.T) {
	assert.True(t, pub.Result{MessageID: "1"}.Succeeded())
	assert.False(t, pub.Result{Err: errors.New("boom")}.Succeeded())
}
