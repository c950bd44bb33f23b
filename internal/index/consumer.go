// Package index maintains the per-user order listing read model. It consumes
// order-created events with at-least-once semantics and dedupes by order id,
// so the listing eventually contains every committed order exactly once.
package index

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ledgerpay/internal/events"
	"github.com/punchamoorthee/ledgerpay/internal/store"
)

const (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

var (
	indexApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpay_index_applied_total",
		Help: "Order-created events applied to the listing index",
	})
	indexDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpay_index_duplicates_total",
		Help: "Redelivered order-created events absorbed by dedupe",
	})
)

type Consumer struct {
	store store.Store
	src   events.Source
	log   *slog.Logger
}

func NewConsumer(st store.Store, src events.Source, log *slog.Logger) *Consumer {
	return &Consumer{store: st, src: src, log: log.With("component", "order-index")}
}

func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("order index consumer started")
	for {
		d, err := c.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("order index consumer stopped")
				return nil
			}
			c.log.Error("fetch failed", "err", err)
			return err
		}

		if err := c.handle(ctx, d); err != nil {
			c.log.Error("apply failed, retrying", "err", err, "key", d.Key)
			if !c.retryHandle(ctx, d) {
				c.log.Info("order index consumer stopped")
				return nil
			}
		}

		if err := c.src.Commit(ctx, d); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("commit failed", "err", err, "key", d.Key)
			return err
		}
	}
}

// retryHandle keeps re-applying a delivery that hit a transient store error.
// The in-process bus has no redelivery, so the delivery is held here until it
// lands; the backoff cap keeps recovery prompt once the store is back.
// Returns false only when the context ended first.
func (c *Consumer) retryHandle(ctx context.Context, d events.Delivery) bool {
	delay := retryBaseDelay
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := c.handle(ctx, d); err != nil {
			c.log.Error("apply failed, retrying", "err", err, "key", d.Key, "delay", delay.String())
			if delay *= 2; delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			continue
		}
		return true
	}
}

func (c *Consumer) handle(ctx context.Context, d events.Delivery) error {
	var ev events.OrderCreated
	if err := json.Unmarshal(d.Value, &ev); err != nil {
		// A malformed payload never becomes valid; swallow it instead of
		// blocking the partition.
		c.log.Error("dropping malformed event", "err", err, "key", d.Key)
		return nil
	}
	if ev.OrderID == "" || ev.UserID == "" {
		c.log.Error("dropping incomplete event", "key", d.Key)
		return nil
	}

	applied, err := c.store.ApplyIndexEntry(ctx, ev.Entry())
	if err != nil {
		return err
	}
	if !applied {
		indexDuplicates.Inc()
		c.log.Info("duplicate event absorbed", "order_id", ev.OrderID)
		return nil
	}
	indexApplied.Inc()
	c.log.Info("order indexed", "order_id", ev.OrderID, "user_id", ev.UserID)
	return nil
}
