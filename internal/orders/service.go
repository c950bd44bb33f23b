// Package orders implements the order processor: validation, the atomic
// debit-and-record unit, and ownership-scoped reads of committed orders.
package orders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
	"github.com/punchamoorthee/ledgerpay/internal/ledger"
	"github.com/punchamoorthee/ledgerpay/internal/store"
)

type Service struct {
	store  store.Store
	ledger *ledger.Service
	log    *slog.Logger
}

func NewService(st store.Store, l *ledger.Service, log *slog.Logger) *Service {
	return &Service{store: st, ledger: l, log: log.With("component", "orders")}
}

// CreateOrder debits the account and records the order in one atomic unit.
// The order-created event is enqueued in the same unit; propagation to the
// listing index happens off the request path.
func (s *Service) CreateOrder(ctx context.Context, op store.Op, amount int64, description string) (*domain.OrderResponse, *domain.IdempotencyRecord, error) {
	if amount <= 0 {
		return nil, nil, domain.ErrInvalidAmount
	}
	if strings.TrimSpace(description) == "" {
		return nil, nil, domain.ErrInvalidDescription
	}

	start := time.Now()
	res, err := s.store.CreateOrder(ctx, op, amount, description)
	if err != nil {
		s.log.Error("create order failed", "user_id", op.UserID, "amount", amount, "err", err, "duration", time.Since(start))
		return nil, nil, err
	}
	if res.Replay != nil {
		s.log.Info("create order replayed", "user_id", op.UserID)
		return nil, res.Replay, nil
	}

	s.ledger.NoteBalance(ctx, op.UserID, res.BalanceAfter)
	s.log.Info("order created", "user_id", op.UserID, "order_id", res.Order.OrderID,
		"amount", amount, "duration", time.Since(start))
	return &domain.OrderResponse{UserID: res.Order.UserID, Order: res.Order}, nil, nil
}

// GetOrder reads a committed order, scoped to the requesting user.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*domain.OrderResponse, error) {
	order, err := s.store.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return &domain.OrderResponse{UserID: userID, Order: order}, nil
}
