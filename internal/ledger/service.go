// Package ledger owns account balances: creation, topups and strongly
// consistent balance reads. The idempotency pipeline lives in the store; this
// layer validates, keeps the balance cache write-through and shapes the
// canonical responses.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/punchamoorthee/ledgerpay/internal/cache"
	"github.com/punchamoorthee/ledgerpay/internal/domain"
	"github.com/punchamoorthee/ledgerpay/internal/store"
)

type Service struct {
	store store.Store
	cache *cache.BalanceCache
	log   *slog.Logger
}

func NewService(st store.Store, c *cache.BalanceCache, log *slog.Logger) *Service {
	return &Service{store: st, cache: c, log: log.With("component", "ledger")}
}

// CreateAccount opens an account with zero balance. A replay of the creating
// request returns the stored record instead of ErrAccountExists.
func (s *Service) CreateAccount(ctx context.Context, op store.Op) (*domain.AccountResponse, *domain.IdempotencyRecord, error) {
	start := time.Now()
	res, err := s.store.CreateAccount(ctx, op)
	if err != nil {
		s.log.Error("create account failed", "user_id", op.UserID, "err", err, "duration", time.Since(start))
		return nil, nil, err
	}
	if res.Replay != nil {
		s.log.Info("create account replayed", "user_id", op.UserID)
		return nil, res.Replay, nil
	}

	s.setCache(ctx, res.Account.UserID, res.Account.Balance)
	s.log.Info("account created", "user_id", op.UserID, "duration", time.Since(start))
	return &domain.AccountResponse{UserID: res.Account.UserID, Balance: res.Account.Balance}, nil, nil
}

// TopUp atomically adds amount to the balance.
func (s *Service) TopUp(ctx context.Context, op store.Op, amount int64) (*domain.AccountResponse, *domain.IdempotencyRecord, error) {
	if amount <= 0 {
		return nil, nil, domain.ErrInvalidAmount
	}

	start := time.Now()
	res, err := s.store.TopUp(ctx, op, amount)
	if err != nil {
		s.log.Error("topup failed", "user_id", op.UserID, "amount", amount, "err", err, "duration", time.Since(start))
		return nil, nil, err
	}
	if res.Replay != nil {
		s.log.Info("topup replayed", "user_id", op.UserID)
		return nil, res.Replay, nil
	}

	s.setCache(ctx, res.Account.UserID, res.Account.Balance)
	s.log.Info("topup applied", "user_id", op.UserID, "amount", amount, "duration", time.Since(start))
	return &domain.AccountResponse{UserID: res.Account.UserID, Balance: res.Account.Balance}, nil, nil
}

// GetBalance reflects every committed mutation at the moment of the call.
// The cache is safe to consult because every commit path writes it before
// responding; a miss falls through to the authoritative row.
func (s *Service) GetBalance(ctx context.Context, userID string) (*domain.AccountResponse, error) {
	if cached, err := s.cache.Get(ctx, userID); err == nil && cached != nil {
		return &domain.AccountResponse{UserID: cached.UserID, Balance: cached.Balance}, nil
	} else if err != nil {
		s.log.Error("balance cache get failed", "user_id", userID, "err", err)
	}

	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.setCache(ctx, userID, balance)
	return &domain.AccountResponse{UserID: userID, Balance: balance}, nil
}

// NoteBalance records a balance committed elsewhere (the order debit path).
func (s *Service) NoteBalance(ctx context.Context, userID string, balance int64) {
	s.setCache(ctx, userID, balance)
}

func (s *Service) setCache(ctx context.Context, userID string, balance int64) {
	if err := s.cache.Set(ctx, cache.Balance{UserID: userID, Balance: balance}); err != nil {
		s.log.Error("balance cache set failed", "user_id", userID, "err", err)
	}
}
