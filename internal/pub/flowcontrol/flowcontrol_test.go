package flowcontrol_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/flowcontrol"
)

const wait = 100 * time.Millisecond

func newController(t *testing.T, messages, bytes int, behavior flowcontrol.Behavior) *flowcontrol.Controller {
	t.Helper()
	c, err := flowcontrol.New(flowcontrol.Config{
		MessageLimit:          messages,
		ByteLimit:             bytes,
		LimitExceededBehavior: behavior,
	})
	require.NoError(t, err)
	return c
}

// acquireAsync runs Acquire in a goroutine and returns a channel closed
// when it returns.
func acquireAsync(t *testing.T, c *flowcontrol.Controller, bytes int) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Acquire(context.Background(), bytes))
	}()
	return done
}

func closedWithin(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

func TestBehaviorUnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    flowcontrol.Behavior
		wantErr bool
	}{
		{in: "ignore", want: flowcontrol.Ignore},
		{in: "", want: flowcontrol.Ignore},
		{in: "ERROR", want: flowcontrol.Error},
		{in: " block ", want: flowcontrol.Block},
		{in: "badvalue", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var b flowcontrol.Behavior
			err := b.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b)
		})
	}
}

func TestNewValidation(t *testing.T) {
	_, err := flowcontrol.New(flowcontrol.Config{MessageLimit: 0, ByteLimit: 10, LimitExceededBehavior: flowcontrol.Block})
	assert.Error(t, err)

	_, err = flowcontrol.New(flowcontrol.Config{MessageLimit: 1, ByteLimit: 1, LimitExceededBehavior: flowcontrol.Behavior(42)})
	assert.Error(t, err)

	c, err := flowcontrol.New(flowcontrol.Config{})
	require.NoError(t, err)
	assert.Equal(t, flowcontrol.Ignore, c.Behavior())
}

func TestIgnore(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 1, 1, flowcontrol.Ignore)

	require.NoError(t, c.Acquire(ctx, 3))
	require.NoError(t, c.Acquire(ctx, 3))
	require.NoError(t, c.Release(3))
	require.NoError(t, c.Release(3))
	require.NoError(t, c.Release(3))
	assert.Zero(t, c.OutstandingMessages())
}

func TestError(t *testing.T) {
	ctx := context.Background()

	t.Run("within limits", func(t *testing.T) {
		c := newController(t, 2, 6, flowcontrol.Error)
		require.NoError(t, c.Acquire(ctx, 3))
		require.NoError(t, c.Acquire(ctx, 3))
		assert.EqualValues(t, 2, c.OutstandingMessages())
		assert.EqualValues(t, 6, c.OutstandingBytes())
	})

	t.Run("message limit", func(t *testing.T) {
		c := newController(t, 1, 10_000_000, flowcontrol.Error)
		require.NoError(t, c.Acquire(ctx, 3))
		require.NoError(t, c.Release(3))
		require.NoError(t, c.Acquire(ctx, 3))
		assert.ErrorIs(t, c.Acquire(ctx, 3), pub.ErrFlowControlLimit)
	})

	t.Run("byte limit", func(t *testing.T) {
		c := newController(t, 1000, 3, flowcontrol.Error)
		require.NoError(t, c.Acquire(ctx, 3))
		require.NoError(t, c.Release(3))
		require.NoError(t, c.Acquire(ctx, 3))
		assert.ErrorIs(t, c.Acquire(ctx, 3), pub.ErrFlowControlLimit)
	})

	t.Run("released before acquire", func(t *testing.T) {
		c := newController(t, 2, 6, flowcontrol.Error)
		require.NoError(t, c.Acquire(ctx, 3))
		require.NoError(t, c.Acquire(ctx, 3))
		require.NoError(t, c.Release(3))
		require.NoError(t, c.Acquire(ctx, 3))
		require.NoError(t, c.Release(3))
		require.NoError(t, c.Acquire(ctx, 3))
	})

	t.Run("over release", func(t *testing.T) {
		c := newController(t, 1, 10_000_000, flowcontrol.Error)
		require.NoError(t, c.Acquire(ctx, 3))
		require.NoError(t, c.Release(3))
		assert.ErrorIs(t, c.Release(3), flowcontrol.ErrOverRelease)
	})
}

func TestBlock(t *testing.T) {
	t.Run("within message limit", func(t *testing.T) {
		c := newController(t, 3, 10_000_000, flowcontrol.Block)
		for i := 0; i < 3; i++ {
			assert.True(t, closedWithin(acquireAsync(t, c, 3), wait), "acquire %d never unblocked", i+1)
		}
		for i := 0; i < 3; i++ {
			require.NoError(t, c.Release(3))
		}
		assert.Zero(t, c.OutstandingBytes())
	})

	t.Run("single message over byte limit", func(t *testing.T) {
		c := newController(t, 1000, 3, flowcontrol.Block)
		assert.ErrorIs(t, c.Acquire(context.Background(), 6), pub.ErrFlowControlLimit)
	})

	t.Run("message limit", func(t *testing.T) {
		c := newController(t, 1, 100, flowcontrol.Block)

		assert.True(t, closedWithin(acquireAsync(t, c, 3), wait))
		assert.EqualValues(t, 3, c.OutstandingBytes())

		second := acquireAsync(t, c, 3)
		assert.False(t, closedWithin(second, wait), "second acquire did not block")
		third := acquireAsync(t, c, 3)
		assert.False(t, closedWithin(third, wait), "third acquire did not block")
		assert.EqualValues(t, 3, c.OutstandingBytes())

		require.NoError(t, c.Release(3))
		assert.True(t, closedWithin(second, wait), "second acquire never unblocked")
		assert.EqualValues(t, 3, c.OutstandingBytes())

		require.NoError(t, c.Release(3))
		assert.True(t, closedWithin(third, wait), "third acquire never unblocked")

		require.NoError(t, c.Release(3))
		assert.Zero(t, c.OutstandingBytes())
	})

	t.Run("insufficient bytes", func(t *testing.T) {
		c := newController(t, 1000, 4, flowcontrol.Block)

		assert.True(t, closedWithin(acquireAsync(t, c, 3), wait))
		second := acquireAsync(t, c, 3)
		assert.False(t, closedWithin(second, wait))

		require.NoError(t, c.Release(3))
		assert.True(t, closedWithin(second, wait))
		require.NoError(t, c.Release(3))
		assert.Zero(t, c.OutstandingBytes())
	})

	t.Run("single release unblocks several waiters", func(t *testing.T) {
		c := newController(t, 1000, 3, flowcontrol.Block)

		assert.True(t, closedWithin(acquireAsync(t, c, 3), wait))
		waiters := []<-chan struct{}{acquireAsync(t, c, 1), acquireAsync(t, c, 1), acquireAsync(t, c, 1)}
		for _, w := range waiters {
			assert.False(t, closedWithin(w, 20*time.Millisecond))
		}

		require.NoError(t, c.Release(3))
		for _, w := range waiters {
			assert.True(t, closedWithin(w, wait))
		}
		assert.EqualValues(t, 3, c.OutstandingBytes())
		assert.EqualValues(t, 3, c.OutstandingMessages())
	})

	t.Run("context canceled", func(t *testing.T) {
		c := newController(t, 1, 100, flowcontrol.Block)
		require.NoError(t, c.Acquire(context.Background(), 3))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.Acquire(ctx, 3), context.DeadlineExceeded)
		assert.EqualValues(t, 1, c.OutstandingMessages())
	})
}
