// Package batch accumulates the messages of one ordering key into publish
// requests. A Batch holds the items slated for the next (or in-flight)
// request plus an overflow queue for items that arrive while the request is
// full or already being sent.
//
// A Batch never calls callbacks or performs I/O. Every method hands items
// back to the caller, which publishes them and completes their callbacks
// outside the batch lock.
package batch

import (
	"sync"

	"asyncpub/internal/pub"
)

// AddResult tells the publisher what happened to an added message.
type AddResult int

const (
	// Added means the message joined the items of the next request.
	Added AddResult = iota
	// Queued means a request is in flight and the message waits behind it.
	Queued
	// Full means the message did not fit and a request should start now.
	Full
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case Queued:
		return "queued"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// State is the externally observable state of a Batch.
type State int

const (
	StateEmpty State = iota
	StateAccumulating
	StatePublishing
	StateStopping
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StatePublishing:
		return "publishing"
	case StateStopping:
		return "stopping"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// phase is exclusive: a batch is never publishing and canceled at once.
type phase int

const (
	phaseIdle phase = iota
	phasePublishing
	phaseCanceled
)

// Limits caps a single publish request.
type Limits struct {
	MaxMessages int
	MaxBytes    int
}

// Batch is the per ordering key buffer of a publisher. It is safe for
// concurrent use.
type Batch struct {
	orderingKey string
	limits      Limits
	baseBytes   int

	mu       sync.Mutex
	items    []Item
	queue    []Item
	bytes    int
	phase    phase
	stopping bool

	// inFlight is held by the publish loop from MarkForPublish until its
	// final Reset. Cancel and Resume leave it alone so a resumed key cannot
	// start a second loop while the canceled request is still out.
	inFlight bool
	// detached marks items as no longer belonging to the in-flight request
	// after a Cancel.
	detached bool
}

// New creates an empty batch for orderingKey on topic.
func New(topic, orderingKey string, limits Limits) *Batch {
	base := pub.RequestOverhead(topic)
	return &Batch{
		orderingKey: orderingKey,
		limits:      limits,
		baseBytes:   base,
		bytes:       base,
	}
}

// OrderingKey returns the key this batch sequences. Empty means unordered.
func (b *Batch) OrderingKey() string {
	return b.orderingKey
}

// Add accepts msg for publication.
func (b *Batch) Add(msg pub.Message, cb pub.Callback) (AddResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopping {
		return 0, pub.ErrPublisherStopped
	}
	if b.phase == phaseCanceled {
		return 0, pub.OrderingKeyError(b.orderingKey)
	}

	item := Item{Message: msg, Callback: cb}
	switch {
	case b.phase == phasePublishing:
		b.queue = append(b.queue, item)
		return Queued, nil
	case b.tryAdd(item):
		return Added, nil
	default:
		b.queue = append(b.queue, item)
		return Full, nil
	}
}

// tryAdd moves item into the next request if it fits. An empty request
// always takes the item so an oversized message cannot stall the key.
// Callers hold b.mu.
func (b *Batch) tryAdd(item Item) bool {
	cost := item.Cost()
	if len(b.items) > 0 {
		if len(b.items)+1 > b.limits.MaxMessages || b.bytes+cost > b.limits.MaxBytes {
			return false
		}
	}

	b.items = append(b.items, item)
	b.bytes += cost
	return true
}

// refill pulls queued items into the request until the head does not fit.
// Callers hold b.mu.
func (b *Batch) refill() {
	for len(b.queue) > 0 && b.tryAdd(b.queue[0]) {
		b.queue[0] = Item{}
		b.queue = b.queue[1:]
	}
	if len(b.queue) == 0 {
		b.queue = nil
	}
}

// MarkForPublish reports whether the caller should start a publish round.
// With stop set the batch stops accepting messages and keeps publishing
// until it is drained.
func (b *Batch) MarkForPublish(stop bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if stop {
		b.stopping = true
	}
	if b.phase != phaseIdle || b.inFlight {
		return false
	}
	if len(b.items) == 0 && len(b.queue) == 0 {
		return false
	}

	b.phase = phasePublishing
	b.inFlight = true
	return true
}

// Rebalance tops up the in-flight request from the queue and returns a copy
// of its items. It returns nil once the batch is canceled.
func (b *Batch) Rebalance() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == phaseCanceled {
		return nil
	}

	// a resumed batch the loop had not sent yet is a new request
	b.detached = false
	b.refill()
	return b.snapshot()
}

// Reset ends a publish request and reports whether another round should
// start immediately.
func (b *Batch) Reset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.detached {
		// the sent items were handed back by Cancel; what is left arrived
		// after a Resume
		b.detached = false
	} else {
		b.clearItems()
	}

	if b.phase == phaseCanceled {
		b.queue = nil
		b.inFlight = false
		return false
	}

	b.refill()

	if b.phase != phasePublishing && !b.inFlight {
		return false
	}
	if len(b.items) > 0 && (b.stopping || len(b.queue) > 0) {
		b.phase = phasePublishing
		return true
	}

	// Leave any refilled items for the next flush to batch further.
	b.phase = phaseIdle
	b.inFlight = false
	return false
}

// Cancel poisons the ordering key and returns every held item, in flight
// first then queued, so the caller can fail their callbacks.
func (b *Batch) Cancel() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.phase = phaseCanceled
	if b.inFlight {
		b.detached = true
	}

	all := make([]Item, 0, len(b.items)+len(b.queue))
	all = append(all, b.items...)
	all = append(all, b.queue...)
	b.clearItems()
	b.queue = nil

	return all
}

// Resume clears a canceled batch so the key can be reused. A request still
// in flight from before the Cancel keeps the batch from publishing again
// until its loop finishes.
func (b *Batch) Resume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != phaseCanceled {
		return false
	}

	b.clearItems()
	b.queue = nil
	b.phase = phaseIdle
	return true
}

// Empty reports whether the batch holds nothing and can be discarded.
func (b *Batch) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase != phaseIdle || b.stopping || b.inFlight {
		return false
	}
	return len(b.items) == 0 && len(b.queue) == 0
}

// Publishing reports whether a publish round is active and new messages queue.
func (b *Batch) Publishing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase == phasePublishing
}

// Stopping reports whether the batch stopped accepting messages.
func (b *Batch) Stopping() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopping
}

// Canceled reports whether the ordering key failed and awaits Resume.
func (b *Batch) Canceled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase == phaseCanceled
}

// InFlight reports whether a publish loop still owns the batch.
func (b *Batch) InFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Detached reports whether a Cancel already failed the in-flight request.
func (b *Batch) Detached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detached
}

// State reports the batch state. Canceled takes precedence over stopping,
// and stopping over publishing.
func (b *Batch) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.phase == phaseCanceled:
		return StateCanceled
	case b.stopping:
		return StateStopping
	case b.phase == phasePublishing || b.inFlight:
		return StatePublishing
	case len(b.items) > 0 || len(b.queue) > 0:
		return StateAccumulating
	default:
		return StateEmpty
	}
}

// Items returns a copy of the items of the next or in-flight request.
func (b *Batch) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

// Len returns the number of items in the next or in-flight request.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// QueueLen returns the number of items waiting in the overflow queue.
func (b *Batch) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Bytes returns the accounted request size, envelope included.
func (b *Batch) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

func (b *Batch) snapshot() []Item {
	if len(b.items) == 0 {
		return []Item{}
	}
	items := make([]Item, len(b.items))
	copy(items, b.items)
	return items
}

func (b *Batch) clearItems() {
	b.items = nil
	b.bytes = b.baseBytes
}
