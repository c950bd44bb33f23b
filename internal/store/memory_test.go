package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
)

const emptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func newTestStore() *MemoryStore {
	return NewMemoryStore("orders.order_created.v1")
}

func op(userID, key string) Op {
	return Op{UserID: userID, Key: key, RequestHash: emptyBodyHash}
}

func mustCreateAccount(t *testing.T, s *MemoryStore, userID string) {
	t.Helper()
	_, err := s.CreateAccount(context.Background(), op(userID, "create-"+userID))
	require.NoError(t, err)
}

func mustTopUp(t *testing.T, s *MemoryStore, userID string, amount int64) {
	t.Helper()
	_, err := s.TopUp(context.Background(), Op{UserID: userID, Key: fmt.Sprintf("topup-%s-%d", userID, amount), RequestHash: "h"}, amount)
	require.NoError(t, err)
}

func TestCreateAccount(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	res, err := s.CreateAccount(ctx, op("alice", "k1"))
	require.NoError(t, err)
	require.Nil(t, res.Replay)
	assert.Equal(t, "alice", res.Account.UserID)
	assert.Equal(t, int64(0), res.Account.Balance)

	// Same key replays the stored response.
	res2, err := s.CreateAccount(ctx, op("alice", "k1"))
	require.NoError(t, err)
	require.NotNil(t, res2.Replay)
	assert.Equal(t, 201, res2.Replay.ResponseStatus)
	assert.JSONEq(t, `{"user_id":"alice","balance":0}`, string(res2.Replay.ResponseBody))

	// A fresh key for an existing account is a genuine conflict.
	_, err = s.CreateAccount(ctx, op("alice", "k2"))
	assert.ErrorIs(t, err, domain.ErrAccountExists)

	// The failed attempt must not have left a record behind.
	_, err = s.CreateAccount(ctx, op("alice", "k2"))
	assert.ErrorIs(t, err, domain.ErrAccountExists)
}

func TestReplayIsByteIdentical(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")

	first, err := s.TopUp(ctx, op("alice", "t1"), 500)
	require.NoError(t, err)
	require.Nil(t, first.Replay)

	a, err := s.TopUp(ctx, op("alice", "t1"), 500)
	require.NoError(t, err)
	b, err := s.TopUp(ctx, op("alice", "t1"), 500)
	require.NoError(t, err)
	require.NotNil(t, a.Replay)
	require.NotNil(t, b.Replay)
	assert.Equal(t, []byte(a.Replay.ResponseBody), []byte(b.Replay.ResponseBody))

	// The replay did not re-apply the topup.
	balance, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestKeyReuseWithDifferentPayload(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")

	_, err := s.TopUp(ctx, Op{UserID: "alice", Key: "t1", RequestHash: "hash-a"}, 100)
	require.NoError(t, err)

	_, err = s.TopUp(ctx, Op{UserID: "alice", Key: "t1", RequestHash: "hash-b"}, 200)
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)

	balance, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestKeysAreScopedPerUser(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")
	mustCreateAccount(t, s, "bob")

	resA, err := s.TopUp(ctx, Op{UserID: "alice", Key: "shared", RequestHash: "h"}, 100)
	require.NoError(t, err)
	require.Nil(t, resA.Replay)

	// Bob reusing Alice's key is a fresh operation, not a replay.
	resB, err := s.TopUp(ctx, Op{UserID: "bob", Key: "shared", RequestHash: "h"}, 250)
	require.NoError(t, err)
	require.Nil(t, resB.Replay)
	assert.Equal(t, int64(250), resB.Account.Balance)
}

func TestConcurrentTopUps(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.TopUp(ctx, Op{UserID: "alice", Key: fmt.Sprintf("t%d", i), RequestHash: "h"}, 10)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(n*10), balance)
}

func TestConcurrentDuplicatesCollapse(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		fresh   int
		replays int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := s.TopUp(ctx, op("alice", "same-key"), 100)
			assert.NoError(t, err)
			mu.Lock()
			if res.Replay != nil {
				replays++
			} else {
				fresh++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, n-1, replays)

	balance, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestCreateOrderDebits(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")
	mustTopUp(t, s, "alice", 1000)

	res, err := s.CreateOrder(ctx, op("alice", "o1"), 300, "first order")
	require.NoError(t, err)
	require.Nil(t, res.Replay)
	assert.NotEmpty(t, res.Order.OrderID)
	assert.Equal(t, domain.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, int64(700), res.BalanceAfter)

	got, err := s.GetOrder(ctx, "alice", res.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, res.Order, got)

	// Scoped read: another user cannot see it.
	_, err = s.GetOrder(ctx, "bob", res.Order.OrderID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")
	mustTopUp(t, s, "alice", 100)

	_, err := s.CreateOrder(ctx, op("alice", "o1"), 500, "too expensive")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Nothing committed: balance intact, no order, no outbox row.
	balance, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	msgs, err := s.PullUnsentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// No record was stored, so the same key retried after a topup executes.
	mustTopUp(t, s, "alice", 1000)
	res, err := s.CreateOrder(ctx, op("alice", "o1"), 500, "too expensive")
	require.NoError(t, err)
	require.Nil(t, res.Replay)
	assert.Equal(t, int64(600), res.BalanceAfter)
}

func TestConcurrentOrdersNeverOverdraw(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")
	mustTopUp(t, s, "alice", 500)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
		rejected  int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateOrder(ctx, Op{UserID: "alice", Key: fmt.Sprintf("o%d", i), RequestHash: "h"}, 100, "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				confirmed++
			case err == domain.ErrInsufficientFunds:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, confirmed)
	assert.Equal(t, 5, rejected)

	balance, err := s.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestOutboxLifecycle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	mustCreateAccount(t, s, "alice")
	mustTopUp(t, s, "alice", 1000)

	res, err := s.CreateOrder(ctx, op("alice", "o1"), 100, "order")
	require.NoError(t, err)

	msgs, err := s.PullUnsentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, res.Order.OrderID, msgs[0].Key)
	assert.Equal(t, "orders.order_created.v1", msgs[0].Topic)

	require.NoError(t, s.MarkEventFailed(ctx, msgs[0].ID, "broker down"))
	msgs, err = s.PullUnsentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].Attempts)
	assert.Equal(t, "broker down", msgs[0].LastError)

	require.NoError(t, s.MarkEventSent(ctx, msgs[0].ID))
	msgs, err = s.PullUnsentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestApplyIndexEntryDedupes(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	e := domain.OrderIndexEntry{OrderID: "ord-1", UserID: "alice", Amount: 100, Status: domain.OrderStatusConfirmed}

	applied, err := s.ApplyIndexEntry(ctx, e)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.ApplyIndexEntry(ctx, e)
	require.NoError(t, err)
	assert.False(t, applied)

	entries, err := s.ListOrders(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListOrdersWindowing(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var orderIDs []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("ord-%d", i)
		orderIDs = append(orderIDs, id)
		entry := domain.OrderIndexEntry{
			OrderID:   id,
			UserID:    "alice",
			Amount:    100,
			Status:    domain.OrderStatusConfirmed,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		_, err := s.ApplyIndexEntry(ctx, entry)
		require.NoError(t, err)
	}

	// Newest first.
	entries, err := s.ListOrders(ctx, "alice", 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, orderIDs[4], entries[0].OrderID)
	assert.Equal(t, orderIDs[3], entries[1].OrderID)

	entries, err = s.ListOrders(ctx, "alice", 2, 4)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, orderIDs[0], entries[0].OrderID)

	entries, err = s.ListOrders(ctx, "alice", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTopUpUnknownAccount(t *testing.T) {
	s := newTestStore()
	_, err := s.TopUp(context.Background(), op("ghost", "t1"), 100)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = s.GetBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
