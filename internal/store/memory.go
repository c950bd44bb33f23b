package store

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
	"github.com/punchamoorthee/ledgerpay/internal/events"
)

type memAccount struct {
	mu  sync.Mutex
	acc domain.Account
}

type idemKey struct {
	userID string
	key    string
}

// idemEntry serializes all requests carrying the same (user, key). The first
// holder executes; anyone blocked on mu observes either the committed record
// (replay) or, if the winner failed and removed the entry, retries from the
// map and executes fresh.
type idemEntry struct {
	mu      sync.Mutex
	removed bool
	rec     *domain.IdempotencyRecord
}

type memOutbox struct {
	msg  domain.OutboxMessage
	sent bool
}

// MemoryStore keeps the whole ledger in process memory. It backs unit tests
// and DB-less local runs, with the same serialization discipline as the
// postgres store: a per-account mutex instead of a row lock, a per-key entry
// mutex instead of a unique-constraint insert. Different accounts never
// contend.
type MemoryStore struct {
	mu       sync.Mutex // guards the maps below, never held during account work
	accounts map[string]*memAccount
	orders   map[string]domain.Order
	idem     map[idemKey]*idemEntry
	outbox   []*memOutbox
	outboxID int64

	indexMu sync.Mutex
	index   map[string][]domain.OrderIndexEntry
	indexed map[string]bool

	topic string
}

func NewMemoryStore(topic string) *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*memAccount),
		orders:   make(map[string]domain.Order),
		idem:     make(map[idemKey]*idemEntry),
		index:    make(map[string][]domain.OrderIndexEntry),
		indexed:  make(map[string]bool),
		topic:    topic,
	}
}

func (s *MemoryStore) Close() {}

// acquireIdem returns the entry for op with its mutex held.
func (s *MemoryStore) acquireIdem(op Op) *idemEntry {
	for {
		s.mu.Lock()
		k := idemKey{op.UserID, op.Key}
		e, ok := s.idem[k]
		if !ok {
			e = &idemEntry{}
			s.idem[k] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		return e
	}
}

// dropIdem removes a reservation whose operation failed. Caller holds e.mu.
func (s *MemoryStore) dropIdem(op Op, e *idemEntry) {
	s.mu.Lock()
	delete(s.idem, idemKey{op.UserID, op.Key})
	s.mu.Unlock()
	e.removed = true
}

func (e *idemEntry) replay(op Op) (*domain.IdempotencyRecord, error) {
	if e.rec == nil {
		return nil, nil
	}
	if e.rec.RequestHash != op.RequestHash {
		return nil, domain.ErrIdempotencyMismatch
	}
	return e.rec, nil
}

func (e *idemEntry) commit(op Op, status int, body []byte) *domain.IdempotencyRecord {
	e.rec = &domain.IdempotencyRecord{
		UserID:         op.UserID,
		Key:            op.Key,
		RequestHash:    op.RequestHash,
		ResponseStatus: status,
		ResponseBody:   body,
		CreatedAt:      time.Now().UTC(),
	}
	return e.rec
}

func (s *MemoryStore) CreateAccount(ctx context.Context, op Op) (MutationResult, error) {
	e := s.acquireIdem(op)
	defer e.mu.Unlock()

	if rec, err := e.replay(op); err != nil || rec != nil {
		return MutationResult{Replay: rec}, err
	}

	s.mu.Lock()
	if _, exists := s.accounts[op.UserID]; exists {
		s.mu.Unlock()
		s.dropIdem(op, e)
		return MutationResult{}, domain.ErrAccountExists
	}
	acc := domain.Account{UserID: op.UserID, Balance: 0, CreatedAt: time.Now().UTC()}
	s.accounts[op.UserID] = &memAccount{acc: acc}
	s.mu.Unlock()

	body, err := json.Marshal(domain.AccountResponse{UserID: acc.UserID, Balance: acc.Balance})
	if err != nil {
		return MutationResult{}, err
	}
	e.commit(op, http.StatusCreated, body)
	return MutationResult{Account: acc}, nil
}

func (s *MemoryStore) TopUp(ctx context.Context, op Op, amount int64) (MutationResult, error) {
	e := s.acquireIdem(op)
	defer e.mu.Unlock()

	if rec, err := e.replay(op); err != nil || rec != nil {
		return MutationResult{Replay: rec}, err
	}

	a := s.account(op.UserID)
	if a == nil {
		s.dropIdem(op, e)
		return MutationResult{}, domain.ErrAccountNotFound
	}

	a.mu.Lock()
	a.acc.Balance += amount
	acc := a.acc
	a.mu.Unlock()

	body, err := json.Marshal(domain.AccountResponse{UserID: acc.UserID, Balance: acc.Balance})
	if err != nil {
		return MutationResult{}, err
	}
	e.commit(op, http.StatusOK, body)
	return MutationResult{Account: acc}, nil
}

func (s *MemoryStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	a := s.account(userID)
	if a == nil {
		return 0, domain.ErrAccountNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acc.Balance, nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, op Op, amount int64, description string) (OrderResult, error) {
	e := s.acquireIdem(op)
	defer e.mu.Unlock()

	if rec, err := e.replay(op); err != nil || rec != nil {
		return OrderResult{Replay: rec}, err
	}

	a := s.account(op.UserID)
	if a == nil {
		s.dropIdem(op, e)
		return OrderResult{}, domain.ErrAccountNotFound
	}

	a.mu.Lock()
	if a.acc.Balance < amount {
		a.mu.Unlock()
		s.dropIdem(op, e)
		return OrderResult{}, domain.ErrInsufficientFunds
	}
	a.acc.Balance -= amount
	balanceAfter := a.acc.Balance

	order := domain.Order{
		OrderID:     uuid.NewString(),
		UserID:      op.UserID,
		Amount:      amount,
		Description: description,
		Status:      domain.OrderStatusConfirmed,
		CreatedAt:   time.Now().UTC(),
	}

	ev := events.OrderCreated{
		EventID:     uuid.NewString(),
		OccurredAt:  time.Now().UTC(),
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		Amount:      order.Amount,
		Description: order.Description,
		Status:      order.Status,
		CreatedAt:   order.CreatedAt,
	}
	payload, err := events.Marshal(ev)
	if err != nil {
		a.acc.Balance += amount
		a.mu.Unlock()
		s.dropIdem(op, e)
		return OrderResult{}, err
	}

	s.mu.Lock()
	s.orders[order.OrderID] = order
	s.outboxID++
	s.outbox = append(s.outbox, &memOutbox{msg: domain.OutboxMessage{
		ID:        s.outboxID,
		Topic:     s.topic,
		Key:       order.OrderID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}})
	s.mu.Unlock()
	a.mu.Unlock()

	body, err := json.Marshal(domain.OrderResponse{UserID: order.UserID, Order: order})
	if err != nil {
		return OrderResult{}, err
	}
	e.commit(op, http.StatusCreated, body)
	return OrderResult{Order: order, BalanceAfter: balanceAfter}, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	s.mu.Lock()
	order, ok := s.orders[orderID]
	s.mu.Unlock()
	if !ok || order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *MemoryStore) PullUnsentEvents(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxMessage
	for _, m := range s.outbox {
		if m.sent {
			continue
		}
		out = append(out, m.msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkEventSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.msg.ID == id {
			m.sent = true
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) MarkEventFailed(ctx context.Context, id int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.msg.ID == id {
			m.msg.Attempts++
			m.msg.LastError = lastError
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ApplyIndexEntry(ctx context.Context, e domain.OrderIndexEntry) (bool, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexed[e.OrderID] {
		return false, nil
	}
	s.indexed[e.OrderID] = true
	entries := append(s.index[e.UserID], e)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	s.index[e.UserID] = entries
	return true, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, userID string, limit, offset int) ([]domain.OrderIndexEntry, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	entries := s.index[userID]
	if offset >= len(entries) {
		return []domain.OrderIndexEntry{}, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	out := make([]domain.OrderIndexEntry, end-offset)
	copy(out, entries[offset:end])
	return out, nil
}

func (s *MemoryStore) account(userID string) *memAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID]
}
