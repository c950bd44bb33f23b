package domain

import (
	"encoding/json"
	"time"
)

// OrderStatusConfirmed is the only terminal state an order is created in.
// The debit and the order row commit together, so there is no pending state.
const OrderStatusConfirmed = "confirmed"

// Account represents a user's balance in the ledger, in minor currency units.
type Account struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is the immutable record of a confirmed purchase. An order exists only
// if its debit against the account committed.
type Order struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderIndexEntry is the denormalized projection of an Order kept in the
// per-user listing read model. It is written asynchronously by the index
// consumer and may lag the order's commit.
type OrderIndexEntry struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	IndexedAt   time.Time `json:"-"`
}

// IdempotencyRecord holds the canonical response produced the first time a
// (user, key) pair was processed. It is never mutated after creation.
type IdempotencyRecord struct {
	UserID         string
	Key            string
	RequestHash    string
	ResponseStatus int
	ResponseBody   json.RawMessage
	CreatedAt      time.Time
}

// OutboxMessage is a pending order-created event awaiting delivery to the
// index. Rows are written in the same transaction as the order itself.
type OutboxMessage struct {
	ID        int64
	Topic     string
	Key       string
	Payload   []byte
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// AccountResponse is the canonical body for account mutations and balance reads.
type AccountResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// OrderResponse is the canonical body for order creation and single-order reads.
type OrderResponse struct {
	UserID string `json:"user_id"`
	Order  Order  `json:"order"`
}

// ListOrdersResponse is the body served from the listing read model.
type ListOrdersResponse struct {
	UserID        string            `json:"user_id"`
	Orders        []OrderIndexEntry `json:"orders"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}
