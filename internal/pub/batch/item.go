package batch

import "asyncpub/internal/pub"

// Item pairs an outbound message with its completion callback.
type Item struct {
	Message  pub.Message
	Callback pub.Callback
}

// Size returns the serialized size of the message.
func (i Item) Size() int {
	return i.Message.Size()
}

// Cost returns the bytes the item adds to a publish request.
func (i Item) Cost() int {
	return pub.EnvelopeSize(i.Size())
}

// Complete invokes the callback, if any, with r.
func (i Item) Complete(r pub.Result) {
	if i.Callback == nil {
		return
	}
	r.Message = i.Message
	i.Callback(r)
}
