package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
	"github.com/punchamoorthee/ledgerpay/internal/events"
)

// PostgresStore is the durable implementation. Per-account serialization
// comes from row locks on accounts; duplicate-request collapse comes from the
// primary key on idempotency_keys. Every mutation runs in one transaction, so
// a failed operation rolls its reservation back with it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	topic string
}

func NewPostgresStore(ctx context.Context, connString, topic string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, topic: topic}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, op Op) (MutationResult, error) {
	var res MutationResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		replay, err := s.checkOrReserve(ctx, tx, op)
		if err != nil || replay != nil {
			res.Replay = replay
			return err
		}

		var acc domain.Account
		err = tx.QueryRow(ctx, `
			INSERT INTO accounts (user_id, balance)
			VALUES ($1, 0)
			ON CONFLICT (user_id) DO NOTHING
			RETURNING user_id, balance, created_at
		`, op.UserID).Scan(&acc.UserID, &acc.Balance, &acc.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAccountExists
		}
		if err != nil {
			return fmt.Errorf("account insert failed: %w", err)
		}

		res.Account = acc
		return s.commitRecord(ctx, tx, op, http.StatusCreated,
			domain.AccountResponse{UserID: acc.UserID, Balance: acc.Balance})
	})
	return res, err
}

func (s *PostgresStore) TopUp(ctx context.Context, op Op, amount int64) (MutationResult, error) {
	var res MutationResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		replay, err := s.checkOrReserve(ctx, tx, op)
		if err != nil || replay != nil {
			res.Replay = replay
			return err
		}

		var acc domain.Account
		err = tx.QueryRow(ctx, `
			UPDATE accounts SET balance = balance + $2
			WHERE user_id = $1
			RETURNING user_id, balance, created_at
		`, op.UserID, amount).Scan(&acc.UserID, &acc.Balance, &acc.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("balance update failed: %w", err)
		}

		res.Account = acc
		return s.commitRecord(ctx, tx, op, http.StatusOK,
			domain.AccountResponse{UserID: acc.UserID, Balance: acc.Balance})
	})
	return res, err
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE user_id = $1", userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, op Op, amount int64, description string) (OrderResult, error) {
	var res OrderResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		replay, err := s.checkOrReserve(ctx, tx, op)
		if err != nil || replay != nil {
			res.Replay = replay
			return err
		}

		// Check-and-decrement in one statement; the row lock it takes
		// serializes concurrent debits and topups on this account.
		var balanceAfter int64
		err = tx.QueryRow(ctx, `
			UPDATE accounts SET balance = balance - $2
			WHERE user_id = $1 AND balance >= $2
			RETURNING balance
		`, op.UserID, amount).Scan(&balanceAfter)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)", op.UserID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return domain.ErrAccountNotFound
			}
			return domain.ErrInsufficientFunds
		}
		if err != nil {
			return fmt.Errorf("debit failed: %w", err)
		}

		order := domain.Order{
			OrderID:     uuid.NewString(),
			UserID:      op.UserID,
			Amount:      amount,
			Description: description,
			Status:      domain.OrderStatusConfirmed,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO orders (order_id, user_id, amount, description, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, order.OrderID, order.UserID, order.Amount, order.Description, order.Status).Scan(&order.CreatedAt)
		if err != nil {
			return fmt.Errorf("order insert failed: %w", err)
		}

		payload, err := events.Marshal(events.OrderCreated{
			EventID:     uuid.NewString(),
			OccurredAt:  time.Now().UTC(),
			OrderID:     order.OrderID,
			UserID:      order.UserID,
			Amount:      order.Amount,
			Description: order.Description,
			Status:      order.Status,
			CreatedAt:   order.CreatedAt,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO outbox_events (topic, event_key, payload)
			VALUES ($1, $2, $3)
		`, s.topic, order.OrderID, payload); err != nil {
			return fmt.Errorf("outbox insert failed: %w", err)
		}

		res.Order = order
		res.BalanceAfter = balanceAfter
		return s.commitRecord(ctx, tx, op, http.StatusCreated,
			domain.OrderResponse{UserID: order.UserID, Order: order})
	})
	return res, err
}

func (s *PostgresStore) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	var o domain.Order
	err := s.pool.QueryRow(ctx, `
		SELECT order_id, user_id, amount, description, status, created_at
		FROM orders WHERE order_id = $1 AND user_id = $2
	`, orderID, userID).Scan(&o.OrderID, &o.UserID, &o.Amount, &o.Description, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (s *PostgresStore) PullUnsentEvents(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, event_key, payload, attempts, COALESCE(last_error, ''), created_at
		FROM outbox_events
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &m.Attempts, &m.LastError, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkEventSent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE outbox_events SET sent_at = now() WHERE id = $1", id)
	return err
}

func (s *PostgresStore) MarkEventFailed(ctx context.Context, id int64, lastError string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1", id, lastError)
	return err
}

func (s *PostgresStore) ApplyIndexEntry(ctx context.Context, e domain.OrderIndexEntry) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO order_index (order_id, user_id, amount, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING
	`, e.OrderID, e.UserID, e.Amount, e.Description, e.Status, e.CreatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, userID string, limit, offset int) ([]domain.OrderIndexEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, user_id, amount, description, status, created_at
		FROM order_index
		WHERE user_id = $1
		ORDER BY created_at DESC, order_id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.OrderIndexEntry{}
	for rows.Next() {
		var e domain.OrderIndexEntry
		if err := rows.Scan(&e.OrderID, &e.UserID, &e.Amount, &e.Description, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// checkOrReserve implements the replay-or-reserve stage inside the caller's
// transaction. A non-nil record means duplicate: serve it verbatim. A nil
// record with nil error means the reservation is ours; the row it inserted
// disappears with the transaction if the operation fails.
func (s *PostgresStore) checkOrReserve(ctx context.Context, tx pgx.Tx, op Op) (*domain.IdempotencyRecord, error) {
	rec, err := s.lookupRecord(ctx, tx, op)
	if err != nil || rec != nil {
		return rec, err
	}

	// The insert runs under a savepoint: a unique violation would otherwise
	// abort the whole transaction and make the re-read below impossible.
	sp, err := tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("savepoint begin failed: %w", err)
	}
	_, err = sp.Exec(ctx, `
		INSERT INTO idempotency_keys (user_id, key, request_hash, response_status, response_body)
		VALUES ($1, $2, $3, 0, ''::bytea)
	`, op.UserID, op.Key, op.RequestHash)
	if err != nil {
		_ = sp.Rollback(ctx)
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("key reservation failed: %w", err)
		}
		// A concurrent duplicate won the reservation. The insert blocked
		// until that transaction committed, so its record is readable now;
		// serve the replay directly instead of bouncing the caller.
		rec, err := s.lookupRecord(ctx, tx, op)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, domain.ErrIdempotencyInProgress
		}
		return rec, nil
	}
	if err := sp.Commit(ctx); err != nil {
		return nil, fmt.Errorf("savepoint commit failed: %w", err)
	}
	return nil, nil
}

func (s *PostgresStore) lookupRecord(ctx context.Context, tx pgx.Tx, op Op) (*domain.IdempotencyRecord, error) {
	rec := &domain.IdempotencyRecord{UserID: op.UserID, Key: op.Key}
	err := tx.QueryRow(ctx, `
		SELECT request_hash, response_status, response_body, created_at
		FROM idempotency_keys WHERE user_id = $1 AND key = $2
	`, op.UserID, op.Key).Scan(&rec.RequestHash, &rec.ResponseStatus, &rec.ResponseBody, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	if rec.RequestHash != op.RequestHash {
		return nil, domain.ErrIdempotencyMismatch
	}
	return rec, nil
}

func (s *PostgresStore) commitRecord(ctx context.Context, tx pgx.Tx, op Op, status int, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE idempotency_keys SET response_status = $3, response_body = $4
		WHERE user_id = $1 AND key = $2
	`, op.UserID, op.Key, status, body)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
