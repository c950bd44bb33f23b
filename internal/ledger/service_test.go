package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
	"github.com/punchamoorthee/ledgerpay/internal/store"
)

func newTestService() *Service {
	st := store.NewMemoryStore("orders.order_created.v1")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, nil, log)
}

func TestCreateAccountAndBalance(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	resp, replay, err := svc.CreateAccount(ctx, store.Op{UserID: "alice", Key: "k1", RequestHash: "h"})
	require.NoError(t, err)
	require.Nil(t, replay)
	assert.Equal(t, "alice", resp.UserID)
	assert.Equal(t, int64(0), resp.Balance)

	got, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)
}

func TestCreateAccountReplay(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	op := store.Op{UserID: "alice", Key: "k1", RequestHash: "h"}

	_, _, err := svc.CreateAccount(ctx, op)
	require.NoError(t, err)

	resp, replay, err := svc.CreateAccount(ctx, op)
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.NotNil(t, replay)
	assert.Equal(t, 201, replay.ResponseStatus)
}

func TestTopUpValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	op := store.Op{UserID: "alice", Key: "t1", RequestHash: "h"}

	_, _, err := svc.TopUp(ctx, op, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, err = svc.TopUp(ctx, op, -100)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestTopUpAccumulates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, _, err := svc.CreateAccount(ctx, store.Op{UserID: "alice", Key: "k1", RequestHash: "h"})
	require.NoError(t, err)

	resp, replay, err := svc.TopUp(ctx, store.Op{UserID: "alice", Key: "t1", RequestHash: "h"}, 300)
	require.NoError(t, err)
	require.Nil(t, replay)
	assert.Equal(t, int64(300), resp.Balance)

	resp, _, err = svc.TopUp(ctx, store.Op{UserID: "alice", Key: "t2", RequestHash: "h"}, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(500), resp.Balance)

	got, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)
}

func TestGetBalanceUnknownUser(t *testing.T) {
	svc := newTestService()
	_, err := svc.GetBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
