package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
	"github.com/punchamoorthee/ledgerpay/internal/store"
)

func seedEntries(t *testing.T, st *store.MemoryStore, userID string, n int) []string {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("ord-%03d", i)
		_, err := st.ApplyIndexEntry(context.Background(), domain.OrderIndexEntry{
			OrderID:   ids[i],
			UserID:    userID,
			Amount:    100,
			Status:    domain.OrderStatusConfirmed,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	return ids
}

func TestListOrdersPagination(t *testing.T) {
	st := store.NewMemoryStore("t")
	svc := NewService(st)
	ids := seedEntries(t, st, "alice", 5)

	page1, err := svc.ListOrders(context.Background(), "alice", 2, "")
	require.NoError(t, err)
	require.Len(t, page1.Orders, 2)
	assert.Equal(t, ids[4], page1.Orders[0].OrderID)
	assert.Equal(t, ids[3], page1.Orders[1].OrderID)
	require.NotEmpty(t, page1.NextPageToken)

	page2, err := svc.ListOrders(context.Background(), "alice", 2, page1.NextPageToken)
	require.NoError(t, err)
	require.Len(t, page2.Orders, 2)
	assert.Equal(t, ids[2], page2.Orders[0].OrderID)
	assert.Equal(t, ids[1], page2.Orders[1].OrderID)

	page3, err := svc.ListOrders(context.Background(), "alice", 2, page2.NextPageToken)
	require.NoError(t, err)
	require.Len(t, page3.Orders, 1)
	assert.Equal(t, ids[0], page3.Orders[0].OrderID)
	assert.Empty(t, page3.NextPageToken)
}

func TestListOrdersDefaultLimit(t *testing.T) {
	st := store.NewMemoryStore("t")
	svc := NewService(st)
	seedEntries(t, st, "alice", 3)

	resp, err := svc.ListOrders(context.Background(), "alice", 0, "")
	require.NoError(t, err)
	assert.Len(t, resp.Orders, 3)
	assert.Empty(t, resp.NextPageToken)
}

func TestListOrdersEmptyUser(t *testing.T) {
	st := store.NewMemoryStore("t")
	svc := NewService(st)

	resp, err := svc.ListOrders(context.Background(), "nobody", 10, "")
	require.NoError(t, err)
	assert.NotNil(t, resp.Orders)
	assert.Empty(t, resp.Orders)
}

func TestListOrdersInvalidPageToken(t *testing.T) {
	st := store.NewMemoryStore("t")
	svc := NewService(st)

	_, err := svc.ListOrders(context.Background(), "alice", 10, "not-base64!!")
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)

	_, err = svc.ListOrders(context.Background(), "alice", 10, EncodePageToken(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestPageTokenRoundTrip(t *testing.T) {
	n, err := DecodePageToken(EncodePageToken(150))
	require.NoError(t, err)
	assert.Equal(t, 150, n)
}
