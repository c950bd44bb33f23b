package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
)

var (
	relayPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpay_outbox_published_total",
		Help: "Outbox events successfully handed to the event transport",
	})
	relayFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerpay_outbox_failed_total",
		Help: "Outbox publish attempts that failed and will be retried",
	})
)

// Outbox is the slice of storage the relay drains. Rows are produced inside
// the order-creation transaction; the relay is the only reader.
type Outbox interface {
	PullUnsentEvents(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkEventSent(ctx context.Context, id int64) error
	MarkEventFailed(ctx context.Context, id int64, lastError string) error
}

// Relay polls the outbox and pushes pending events to the publisher.
// Delivery is at least once: a crash after Publish but before MarkEventSent
// re-sends the event, and the index dedupes by order id.
type Relay struct {
	outbox   Outbox
	pub      Publisher
	interval time.Duration
	batch    int
	log      *slog.Logger
}

func NewRelay(outbox Outbox, pub Publisher, interval time.Duration, batch int, log *slog.Logger) *Relay {
	return &Relay{
		outbox:   outbox,
		pub:      pub,
		interval: interval,
		batch:    batch,
		log:      log.With("component", "outbox-relay"),
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("outbox relay started", "interval", r.interval.String(), "batch", r.batch)
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return nil
		case <-t.C:
			if err := r.publishOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("outbox publish cycle failed", "err", err)
			}
		}
	}
}

func (r *Relay) publishOnce(ctx context.Context) error {
	msgs, err := r.outbox.PullUnsentEvents(ctx, r.batch)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if err := r.pub.Publish(ctx, m.Key, m.Payload); err != nil {
			relayFailed.Inc()
			r.log.Error("publish failed", "err", err, "outbox_id", m.ID, "key", m.Key)
			if markErr := r.outbox.MarkEventFailed(ctx, m.ID, err.Error()); markErr != nil {
				r.log.Error("mark failed errored", "err", markErr, "outbox_id", m.ID)
			}
			continue
		}
		if err := r.outbox.MarkEventSent(ctx, m.ID); err != nil {
			r.log.Error("mark sent errored", "err", err, "outbox_id", m.ID)
			return err
		}
		relayPublished.Inc()
	}
	return nil
}
