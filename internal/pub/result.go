package pub

// Result is the outcome of publishing a single message.
type Result struct {
	Message   Message
	MessageID string
	Err       error
}

// Succeeded reports whether the message was published.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Callback receives the result of an asynchronous publish exactly once.
type Callback func(Result)
