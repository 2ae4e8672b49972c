// Package publisher publishes messages asynchronously in batches, one batch
// per ordering key. Messages are grouped until a batch fills or the flush
// interval passes, then sent through a pub.Transport by one publish loop per
// key, so messages sharing an ordering key are sent strictly in order.
//
// Every accepted message receives exactly one callback with its message ID
// or the reason it failed. When a request for an ordering key fails, all
// messages held for that key fail with it and the key rejects new messages
// until ResumePublish is called.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/batch"
	"asyncpub/internal/pub/flowcontrol"
	"asyncpub/internal/pub/metrics"
	"asyncpub/internal/validator"
)

const defaultReleaseTimeout = 30 * time.Second

// Option configures optional Publisher behavior.
type Option func(*Publisher)

// WithMetrics records publisher metrics in registry.
func WithMetrics(registry *metrics.Registry) Option {
	return func(p *Publisher) {
		p.registry = registry
	}
}

// WithMessageOrdering enables ordering keys from the start.
func WithMessageOrdering() Option {
	return func(p *Publisher) {
		p.ordering = true
	}
}

// Publisher batches messages for a single topic.
type Publisher struct {
	topic     string
	transport pub.Transport
	logger    *zap.Logger
	cfg       Config
	limits    batch.Limits
	flow      *flowcontrol.Controller
	registry  *metrics.Registry

	publishSem *semaphore.Weighted
	callbacks  *ants.Pool

	// ctx bounds transport requests; canceled when Wait gives up.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	batches     map[string]*batch.Batch
	ordering    bool
	stopped     bool
	publishedAt time.Time

	wake  chan struct{}
	done  chan struct{}
	loops sync.WaitGroup

	release    sync.Once
	releaseErr error
}

// New creates a Publisher for topic and starts its flush loop.
func New(topic string, transport pub.Transport, logger *zap.Logger, cfg Config, opts ...Option) (*Publisher, error) {
	if err := validator.Validate(
		"publisher",
		topic,
		transport,
		logger,
		cfg.MaxMessages,
		cfg.MaxBytes,
		cfg.Interval,
		cfg.PublishThreads,
		cfg.CallbackThreads,
	); err != nil {
		return nil, fmt.Errorf("failed to validate publisher deps: %w", err)
	}

	cfg = cfg.withDefaults()
	flow, err := flowcontrol.New(cfg.FlowControl)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow control: %w", err)
	}

	logger = logger.Named("publisher").With(zap.String("topic", topic))

	callbacks, err := ants.NewPool(cfg.CallbackThreads, ants.WithPanicHandler(func(v any) {
		logger.Error("publish callback panicked", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create callback pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		topic:      topic,
		transport:  transport,
		logger:     logger,
		cfg:        cfg,
		limits:     batch.Limits{MaxMessages: cfg.MaxMessages, MaxBytes: cfg.MaxBytes},
		flow:       flow,
		publishSem: semaphore.NewWeighted(int64(cfg.PublishThreads)),
		callbacks:  callbacks,
		ctx:        ctx,
		cancel:     cancel,
		batches:    make(map[string]*batch.Batch),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.run()

	return p, nil
}

// Topic returns the topic messages are published to.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish queues msg and returns without waiting for it to be sent. cb is
// called exactly once with the outcome unless Publish returns an error, in
// which case the message was not accepted and cb is never called.
//
// Publish only blocks when flow control is configured to block; ctx bounds
// that wait.
func (p *Publisher) Publish(ctx context.Context, msg pub.Message, cb pub.Callback) error {
	size := msg.Size()

	if err := p.flow.Acquire(ctx, size); err != nil {
		if errors.Is(err, pub.ErrFlowControlLimit) && msg.OrderingKey != "" {
			p.stopPublish(msg.OrderingKey, err)
		}
		p.rejected(err)
		return err
	}
	p.observeFlow()

	res, err := p.add(msg, p.completion(size, cb))
	if err != nil {
		p.releaseFlow(size)
		p.rejected(err)
		return err
	}

	if p.registry != nil {
		p.registry.RecordAccepted(p.topic, res.String())
	}

	return nil
}

func (p *Publisher) add(msg pub.Message, done pub.Callback) (batch.AddResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return 0, pub.ErrPublisherStopped
	}
	if !p.ordering && msg.OrderingKey != "" {
		return 0, pub.ErrOrderedMessagesDisabled
	}

	b, ok := p.batches[msg.OrderingKey]
	if !ok {
		b = batch.New(p.topic, msg.OrderingKey, p.limits)
		p.batches[msg.OrderingKey] = b
	}

	res, err := b.Add(msg, done)
	if err != nil {
		return 0, err
	}

	if res == batch.Full {
		p.logger.Debug("batch full, publishing", zap.String("orderingKey", msg.OrderingKey))
		p.publishBatches(false)
	} else if p.publishedAt.IsZero() {
		p.publishedAt = time.Now()
	}
	p.signal()

	return res, nil
}

// completion wraps cb so the message's flow control is released and the
// callback dispatched exactly once, however many paths try to complete it.
func (p *Publisher) completion(size int, cb pub.Callback) pub.Callback {
	var once sync.Once
	return func(r pub.Result) {
		once.Do(func() {
			p.releaseFlow(size)
			if p.registry != nil {
				p.registry.RecordCallback(p.topic, r.Err)
			}
			p.dispatch(cb, r)
		})
	}
}

func (p *Publisher) dispatch(cb pub.Callback, r pub.Result) {
	if cb == nil {
		return
	}
	if err := p.callbacks.Submit(func() { cb(r) }); err != nil {
		// pool released: deliver inline rather than drop the result
		p.safeCall(cb, r)
	}
}

func (p *Publisher) safeCall(cb pub.Callback, r pub.Result) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("publish callback panicked", zap.Any("panic", v))
		}
	}()
	cb(r)
}

func (p *Publisher) releaseFlow(size int) {
	if err := p.flow.Release(size); err != nil {
		p.logger.Error("failed to release flow control", zap.Error(err))
	}
	p.observeFlow()
}

func (p *Publisher) observeFlow() {
	if p.registry != nil {
		p.registry.UpdateFlowControl(p.topic, p.flow.OutstandingMessages(), p.flow.OutstandingBytes())
	}
}

func (p *Publisher) rejected(err error) {
	if p.registry == nil {
		return
	}

	reason := "other"
	switch {
	case errors.Is(err, pub.ErrPublisherStopped):
		reason = "stopped"
	case errors.Is(err, pub.ErrOrderingKey):
		reason = "ordering_key"
	case errors.Is(err, pub.ErrOrderedMessagesDisabled):
		reason = "ordering_disabled"
	case errors.Is(err, pub.ErrFlowControlLimit):
		reason = "flow_control"
	}
	p.registry.RecordRejected(p.topic, reason)
}

// EnableMessageOrdering allows messages with ordering keys.
func (p *Publisher) EnableMessageOrdering() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ordering = true
}

// MessageOrdering reports whether ordering keys are allowed.
func (p *Publisher) MessageOrdering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ordering
}

// ResumePublish lets a canceled ordering key accept messages again. It
// returns false if the key was not canceled.
func (p *Publisher) ResumePublish(orderingKey string) bool {
	p.mu.Lock()
	b, ok := p.batches[orderingKey]
	p.mu.Unlock()

	if !ok || !b.Resume() {
		return false
	}

	p.logger.Info("ordering key resumed", zap.String("orderingKey", orderingKey))
	if p.registry != nil {
		p.registry.RecordKeyResumed(p.topic)
	}
	return true
}

// Flush starts publishing every batch now instead of waiting for the interval.
func (p *Publisher) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.publishBatches(false)
	p.signal()
}

// Stop publishes everything held and rejects further messages. It does not
// wait; use Wait or Shutdown for that.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	p.logger.Info("stopping publisher", zap.Int("batches", len(p.batches)))
	p.stopped = true
	p.publishBatches(true)
	p.signal()
}

// Stopped reports whether Stop was called.
func (p *Publisher) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Wait blocks until the publisher is stopped and every held message has
// been published or failed, then drains the callback pool. If ctx ends
// first, in-flight requests are canceled and ctx's error is returned.
func (p *Publisher) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		<-p.done
		p.loops.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("failed to drain publisher: %w", ctx.Err())
	}

	p.release.Do(func() {
		timeout := defaultReleaseTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = max(time.Until(deadline), time.Millisecond)
		}
		if err := p.callbacks.ReleaseTimeout(timeout); err != nil {
			p.releaseErr = fmt.Errorf("failed to drain callbacks: %w", err)
		}
		p.cancel()
		p.logger.Info("publisher stopped")
	})

	return p.releaseErr
}

// Shutdown stops the publisher and waits for it to drain.
func (p *Publisher) Shutdown(ctx context.Context) error {
	p.Stop()
	return p.Wait(ctx)
}

func (p *Publisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// run flushes batches once the oldest unflushed message is Interval old.
func (p *Publisher) run() {
	defer close(p.done)

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}

		wait := time.Duration(-1)
		if !p.publishedAt.IsZero() {
			if elapsed := time.Since(p.publishedAt); elapsed >= p.cfg.Interval {
				p.publishBatches(false)
			} else {
				wait = p.cfg.Interval - elapsed
			}
		}
		p.mu.Unlock()

		if wait < 0 {
			<-p.wake
			continue
		}

		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-p.wake:
		}
	}
}

// publishBatches drops empty batches and starts a publish loop for every
// batch that has something to send. Callers hold p.mu.
func (p *Publisher) publishBatches(stop bool) {
	for key, b := range p.batches {
		if b.Empty() {
			delete(p.batches, key)
		}
	}

	for _, b := range p.batches {
		if b.MarkForPublish(stop) {
			p.loops.Add(1)
			go func() {
				defer p.loops.Done()
				p.publishLoop(b)
			}()
		}
	}

	p.publishedAt = time.Time{}

	if p.registry != nil {
		p.registry.UpdateActiveBatches(p.topic, len(p.batches))
	}
}

// publishLoop sends b's requests until Reset reports the round is over.
// It is the only caller of Rebalance and Reset for b while b is publishing.
func (p *Publisher) publishLoop(b *batch.Batch) {
	for {
		items := b.Rebalance()
		if len(items) > 0 {
			ids, err := p.send(b.OrderingKey(), items)
			if err != nil {
				p.fail(b, items, err)
			} else {
				for i, item := range items {
					item.Complete(pub.Result{MessageID: ids[i]})
				}
			}
		}

		if !b.Reset() {
			break
		}
	}

	// Items refilled by the last Reset wait for the next flush.
	if b.State() == batch.StateAccumulating {
		p.mu.Lock()
		if p.publishedAt.IsZero() {
			p.publishedAt = time.Now()
		}
		p.signal()
		p.mu.Unlock()
	}
}

func (p *Publisher) send(orderingKey string, items []batch.Item) ([]string, error) {
	msgs := make([]pub.Message, len(items))
	for i, item := range items {
		msgs[i] = item.Message
	}

	if err := p.publishSem.Acquire(p.ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire publish slot: %w", err)
	}
	defer p.publishSem.Release(1)

	ids, err := p.transport.Publish(p.ctx, p.topic, orderingKey, msgs...)
	if err != nil {
		return nil, err
	}
	if len(ids) != len(msgs) {
		return nil, fmt.Errorf("transport returned %d message IDs for %d messages", len(ids), len(msgs))
	}

	return ids, nil
}

// fail completes the items of a failed request. An ordered key is canceled
// and everything it holds fails, since later messages cannot be sent ahead
// of the failed ones. Unordered messages fail alone.
func (p *Publisher) fail(b *batch.Batch, items []batch.Item, err error) {
	key := b.OrderingKey()
	logger := p.logger.With(zap.String("orderingKey", key), zap.Int("messages", len(items)))

	if key == "" {
		logger.Error("failed to publish batch", zap.Error(err))
		for _, item := range items {
			item.Complete(pub.Result{Err: err})
		}
		return
	}

	if b.Detached() {
		// the key was canceled while this request was out and may since have
		// been resumed, so the failure belongs to callbacks already completed
		logger.Warn("canceled request failed to publish", zap.Error(err))
		return
	}

	held := b.Cancel()
	logger.Error("failed to publish batch, canceling ordering key", zap.Int("held", len(held)), zap.Error(err))
	if p.registry != nil {
		p.registry.RecordKeyCanceled(p.topic)
	}

	err = fmt.Errorf("%w: %w", pub.OrderingKeyError(key), err)
	for _, item := range held {
		item.Complete(pub.Result{Err: err})
	}
}

// stopPublish cancels an ordering key after a flow control failure.
func (p *Publisher) stopPublish(orderingKey string, err error) {
	p.mu.Lock()
	b, ok := p.batches[orderingKey]
	p.mu.Unlock()
	if !ok {
		return
	}

	held := b.Cancel()
	p.logger.Warn("canceling ordering key after flow control failure",
		zap.String("orderingKey", orderingKey),
		zap.Int("held", len(held)),
		zap.Error(err),
	)
	if p.registry != nil {
		p.registry.RecordKeyCanceled(p.topic)
	}

	for _, item := range held {
		item.Complete(pub.Result{Err: err})
	}
}
