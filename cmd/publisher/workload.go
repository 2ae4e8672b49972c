package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"asyncpub/internal/pub"
	"asyncpub/internal/pub/publisher"
)

type order struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Seq        int     `json:"seq"`
	Amount     float64 `json:"amount"`
	Timestamp  string  `json:"timestamp"`
}

type report struct {
	accepted  int
	succeeded int
	failed    int
}

// workload publishes orders for a set of customers. Each customer is an
// ordering key; a share of orders carry no key.
type workload struct {
	topic string
	keys  []string
	plan  map[string][]pub.Message

	mu       sync.Mutex
	accepted int
	results  map[string]pub.Result // by order ID
	sent     map[string][]string   // order IDs per key, in publish order
}

func newWorkload(cfg Config, topic string) *workload {
	w := &workload{
		topic:   topic,
		plan:    make(map[string][]pub.Message),
		results: make(map[string]pub.Result),
		sent:    make(map[string][]string),
	}

	for i := range max(cfg.OrderingKeys, 1) {
		w.keys = append(w.keys, fmt.Sprintf("cust-%02d", i))
	}

	for i := range cfg.MessageCount {
		key := w.keys[rand.IntN(len(w.keys))]
		customer := key
		if rand.Float64() < cfg.UnorderedShare {
			key = ""
		}

		o := order{
			OrderID:    fmt.Sprintf("ORD-%06d", i+1),
			CustomerID: customer,
			Seq:        len(w.plan[key]),
			Amount:     10.0 + rand.Float64()*990.0,
			Timestamp:  time.Now().Format(time.RFC3339),
		}
		data, _ := json.Marshal(o)

		w.plan[key] = append(w.plan[key], pub.Message{
			Data:        data,
			Attributes:  map[string]string{"order_id": o.OrderID, "type": "order"},
			OrderingKey: key,
		})
	}

	return w
}

// publish sends every key's orders concurrently, one goroutine per key so
// each key's orders are published in sequence.
func (w *workload) publish(ctx context.Context, p *publisher.Publisher) error {
	g, gctx := errgroup.WithContext(ctx)

	for key, msgs := range w.plan {
		g.Go(func() error {
			for _, m := range msgs {
				orderID := m.Attributes["order_id"]
				if err := p.Publish(gctx, m, w.callback(orderID)); err != nil {
					return fmt.Errorf("failed to publish %s with key %q: %w", orderID, key, err)
				}

				w.mu.Lock()
				w.accepted++
				w.sent[key] = append(w.sent[key], orderID)
				w.mu.Unlock()
			}
			return nil
		})
	}

	return g.Wait()
}

func (w *workload) callback(orderID string) pub.Callback {
	return func(r pub.Result) {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.results[orderID] = r
	}
}

func (w *workload) report() report {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := report{accepted: w.accepted}
	for _, res := range w.results {
		if res.Succeeded() {
			r.succeeded++
		} else {
			r.failed++
		}
	}
	r.failed += w.accepted - len(w.results)
	return r
}

// expected returns the order IDs of key in publish order.
func (w *workload) expected(key string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.sent[key])
}

func (w *workload) messageID(orderID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.results[orderID].MessageID
}

func (w *workload) orderedKeys() []string {
	var keys []string
	for key := range w.plan {
		if key != "" {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}
