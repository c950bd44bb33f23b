package events

import "context"

// Bus is an in-process Publisher/Source pair for single-binary deployments
// and tests. It preserves the asynchronous hop between order commit and index
// visibility; only the transport is local.
type Bus struct {
	ch chan Delivery
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Bus{ch: make(chan Delivery, buffer)}
}

func (b *Bus) Publish(ctx context.Context, key string, value []byte) error {
	select {
	case b.ch <- Delivery{Key: key, Value: value}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) Fetch(ctx context.Context) (Delivery, error) {
	select {
	case d := <-b.ch:
		return d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Commit is a no-op: the channel receive already consumed the delivery.
func (b *Bus) Commit(context.Context, Delivery) error { return nil }
