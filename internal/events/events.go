package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
)

// OrderCreated announces a committed order to the listing index. Delivery is
// at least once; consumers dedupe by order_id.
type OrderCreated struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (e OrderCreated) Entry() domain.OrderIndexEntry {
	return domain.OrderIndexEntry{
		OrderID:     e.OrderID,
		UserID:      e.UserID,
		Amount:      e.Amount,
		Description: e.Description,
		Status:      e.Status,
		CreatedAt:   e.CreatedAt,
		IndexedAt:   time.Now().UTC(),
	}
}

func Marshal(e OrderCreated) ([]byte, error) {
	return json.Marshal(e)
}

// Delivery is one message pulled from a Source. Meta carries transport
// bookkeeping (the kafka message for offset commits); the in-process bus
// leaves it nil.
type Delivery struct {
	Key   string
	Value []byte
	Meta  any
}

// Publisher pushes serialized events toward the index. Implementations:
// kafka writer, in-process bus.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Source is the consuming side. Fetch blocks until a delivery or ctx
// cancellation; Commit acknowledges it so it is not redelivered.
type Source interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, d Delivery) error
}
