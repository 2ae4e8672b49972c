package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocloud.dev/pubsub"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/bus"
)

const verifyTimeout = 30 * time.Second

// verifyLogs reloads each ordering key's log and checks it holds exactly the
// key's orders, in publish order, under the IDs their callbacks received.
func verifyLogs(ctlr pub.Controller) verifyFunc {
	return func(ctx context.Context, w *workload) error {
		for _, key := range w.orderedKeys() {
			want := w.expected(key)

			records, err := ctlr.LoadMessages(ctx, w.topic, key, 0, len(want)+1)
			if err != nil {
				return fmt.Errorf("failed to load messages for key %s: %w", key, err)
			}

			got := make([]string, 0, len(records))
			for _, r := range records {
				var o order
				if err := json.Unmarshal(r.Data, &o); err != nil {
					return fmt.Errorf("failed to decode record %s: %w", r.ID, err)
				}
				if id := w.messageID(o.OrderID); id != r.ID {
					return fmt.Errorf("order %s stored as %s but its callback got %s", o.OrderID, r.ID, id)
				}
				got = append(got, o.OrderID)
			}

			if !slices.Equal(want, got) {
				return fmt.Errorf("key %s: log holds %v, published %v", key, got, want)
			}
		}
		return nil
	}
}

// subscribe attaches to the topic before anything is published and returns
// a verifier that waits for every message and checks ordering keys and IDs.
// The in-memory driver may hand out received batches concurrently, so
// arrival order is not checked here; sendRecorder checks send order.
func subscribe(ctx context.Context, url string, logger *zap.Logger) (verifyFunc, error) {
	sub, err := pubsub.OpenSubscription(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open subscription %s: %w", url, err)
	}

	var (
		mu       sync.Mutex
		received = make(map[string]*pubsub.Message)
	)
	recvCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		for {
			m, err := sub.Receive(recvCtx)
			if err != nil {
				return
			}
			m.Ack()

			mu.Lock()
			received[m.Metadata["order_id"]] = m
			mu.Unlock()
		}
	}()

	return func(ctx context.Context, w *workload) error {
		defer func() {
			stop()
			if err := sub.Shutdown(context.Background()); err != nil {
				logger.Warn("failed to shut down subscription", zap.Error(err))
			}
		}()

		total := 0
		for _, ids := range w.plan {
			total += len(ids)
		}

		deadline := time.Now().Add(verifyTimeout)
		for {
			mu.Lock()
			n := len(received)
			mu.Unlock()
			if n >= total {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("received %d of %d messages", n, total)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}

		mu.Lock()
		defer mu.Unlock()

		for key := range w.plan {
			for _, orderID := range w.expected(key) {
				m, ok := received[orderID]
				if !ok {
					return fmt.Errorf("order %s was not delivered", orderID)
				}
				if got := m.Metadata[bus.OrderingKeyKey]; got != key {
					return fmt.Errorf("order %s delivered with ordering key %q, want %q", orderID, got, key)
				}
				if got := m.Metadata[bus.MessageIDKey]; got != w.messageID(orderID) {
					return fmt.Errorf("order %s delivered as %s but its callback got %s", orderID, got, w.messageID(orderID))
				}
			}
		}

		return nil
	}, nil
}

// sendRecorder records the order IDs each ordering key's requests carried,
// in the order the transport was called.
type sendRecorder struct {
	transport pub.Transport

	mu   sync.Mutex
	sent map[string][]string
}

func newSendRecorder(transport pub.Transport) *sendRecorder {
	return &sendRecorder{transport: transport, sent: make(map[string][]string)}
}

func (r *sendRecorder) Publish(ctx context.Context, topic, orderingKey string, msgs ...pub.Message) ([]string, error) {
	ids, err := r.transport.Publish(ctx, topic, orderingKey, msgs...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for _, m := range msgs {
		r.sent[orderingKey] = append(r.sent[orderingKey], m.Attributes["order_id"])
	}
	r.mu.Unlock()

	return ids, nil
}

// verify checks every ordered key was sent exactly in publish order.
func (r *sendRecorder) verify(w *workload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range w.orderedKeys() {
		if want, got := w.expected(key), r.sent[key]; !slices.Equal(want, got) {
			return fmt.Errorf("key %s: sent %v, published %v", key, got, want)
		}
	}
	return nil
}
