package batch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/batch"
)

func TestItemSizeAndCost(t *testing.T) {
	it := batch.Item{Message: helloWorld()}
	assert.Equal(t, 13, it.Size())
	assert.Equal(t, 15, it.Cost())
}

func TestItemComplete(t *testing.T) {
	var got pub.Result
	it := batch.Item{
		Message:  helloWorld(),
		Callback: func(r pub.Result) { got = r },
	}

	it.Complete(pub.Result{MessageID: "m-1"})
	assert.Equal(t, "m-1", got.MessageID)
	assert.Equal(t, "hello world", string(got.Message.Data))

	assert.NotPanics(t, func() {
		batch.Item{Message: helloWorld()}.Complete(pub.Result{})
	})
}
