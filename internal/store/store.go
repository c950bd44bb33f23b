package store

import (
	"context"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
)

// Op identifies one mutating request for idempotency purposes. RequestHash is
// the sha256 of the raw request body; reusing a key with a different hash is
// rejected rather than replayed.
type Op struct {
	UserID      string
	Key         string
	RequestHash string
}

// MutationResult is the outcome of an account mutation. When Replay is set
// the request was a duplicate and the stored response must be served verbatim;
// Account is only meaningful otherwise.
type MutationResult struct {
	Account domain.Account
	Replay  *domain.IdempotencyRecord
}

// OrderResult is the outcome of order creation, with the same replay contract.
// BalanceAfter is the account balance once the debit committed; the service
// uses it to keep the balance cache write-through.
type OrderResult struct {
	Order        domain.Order
	BalanceAfter int64
	Replay       *domain.IdempotencyRecord
}

// Store is the durable state of the service. Every mutating operation is
// atomic: the idempotency reservation, the balance change, and (for orders)
// the order row plus its outbox event commit or roll back together. Failed
// mutations leave no idempotency record, so a retry re-executes and
// deterministically fails the same way.
type Store interface {
	// CreateAccount opens an account with zero balance. ErrAccountExists when
	// the user already has one and this is not a replay of the creating request.
	CreateAccount(ctx context.Context, op Op) (MutationResult, error)

	// TopUp atomically adds amount to the balance. ErrAccountNotFound for
	// unknown users. Amount validation happens above this layer.
	TopUp(ctx context.Context, op Op, amount int64) (MutationResult, error)

	// GetBalance is strongly consistent: it reads the authoritative row.
	GetBalance(ctx context.Context, userID string) (int64, error)

	// CreateOrder debits the account, records the order as confirmed and
	// enqueues its order-created event, all in one atomic unit.
	// ErrInsufficientFunds leaves the balance untouched.
	CreateOrder(ctx context.Context, op Op, amount int64, description string) (OrderResult, error)

	// GetOrder is scoped to the requesting user: an order belonging to someone
	// else is indistinguishable from a missing one.
	GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error)

	// Outbox: drained by the event relay, at-least-once.
	PullUnsentEvents(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkEventSent(ctx context.Context, id int64) error
	MarkEventFailed(ctx context.Context, id int64, lastError string) error

	// Order index read model. ApplyIndexEntry reports false for a duplicate
	// order_id, which absorbs redelivered events.
	ApplyIndexEntry(ctx context.Context, e domain.OrderIndexEntry) (bool, error)
	ListOrders(ctx context.Context, userID string, limit, offset int) ([]domain.OrderIndexEntry, error)

	Close()
}
