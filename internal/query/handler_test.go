package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/readmodel"
)

func seedOrders(t *testing.T, rs store.ReadStoreInterface) {
	t.Helper()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	orders := []readmodel.OrderReadModel{
		{ID: "order-1", BuyerID: "buyer-1", Status: "completed", CreatedAt: base},
		{ID: "order-2", BuyerID: "buyer-1", Status: "pending", CreatedAt: base.Add(time.Hour)},
		{ID: "order-3", BuyerID: "buyer-2", Status: "completed", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, o := range orders {
		require.NoError(t, rs.Set(store.CollectionOrders, o.ID, o))
	}
}

func TestGetOrder(t *testing.T) {
	rs := store.NewReadStore()
	h := NewHandler(rs)
	seedOrders(t, rs)

	m, err := h.GetOrder("order-1")
	require.NoError(t, err)
	assert.Equal(t, "buyer-1", m.BuyerID)

	_, err = h.GetOrder("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrderAcceptsPointerModels(t *testing.T) {
	// The SQL-backed read store hands back pointers; the in-memory one hands
	// back values. Both must resolve.
	rs := store.NewReadStore()
	h := NewHandler(rs)
	require.NoError(t, rs.Set(store.CollectionOrders, "order-p", &readmodel.OrderReadModel{ID: "order-p", BuyerID: "buyer-9"}))

	m, err := h.GetOrder("order-p")
	require.NoError(t, err)
	assert.Equal(t, "buyer-9", m.BuyerID)
}

func TestListOrdersByBuyerNewestFirst(t *testing.T) {
	rs := store.NewReadStore()
	h := NewHandler(rs)
	seedOrders(t, rs)

	orders, err := h.ListOrdersByBuyer("buyer-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "order-2", orders[0].ID)
	assert.Equal(t, "order-1", orders[1].ID)
}

func TestListOrdersByStatus(t *testing.T) {
	rs := store.NewReadStore()
	h := NewHandler(rs)
	seedOrders(t, rs)

	orders, err := h.ListOrdersByStatus("completed")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "order-3", orders[0].ID)
}

func TestPendingRefundExists(t *testing.T) {
	rs := store.NewReadStore()
	h := NewHandler(rs)

	require.NoError(t, rs.Set(store.CollectionRefunds, "ref-1", readmodel.RefundReadModel{
		ID: "ref-1", OrderID: "order-1", Status: "rejected",
	}))

	exists, err := h.PendingRefundExists("order-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, rs.Set(store.CollectionRefunds, "ref-2", readmodel.RefundReadModel{
		ID: "ref-2", OrderID: "order-1", Status: "approved",
	}))

	exists, err = h.PendingRefundExists("order-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListDueSubscriptions(t *testing.T) {
	rs := store.NewReadStore()
	h := NewHandler(rs)
	now := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)

	subs := []readmodel.SubscriptionReadModel{
		{ID: "sub-due", Status: "active", NextBillingDate: now.Add(-time.Hour)},
		{ID: "sub-later", Status: "active", NextBillingDate: now.Add(time.Hour)},
		{ID: "sub-paused", Status: "paused", NextBillingDate: now.Add(-time.Hour)},
		{ID: "sub-overdue", Status: "active", NextBillingDate: now.Add(-48 * time.Hour)},
	}
	for _, s := range subs {
		require.NoError(t, rs.Set(store.CollectionSubscriptions, s.ID, s))
	}

	due, err := h.ListDueSubscriptions(now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "sub-overdue", due[0].ID)
	assert.Equal(t, "sub-due", due[1].ID)
}

func TestIsTransactionProcessed(t *testing.T) {
	rs := store.NewReadStore()
	h := NewHandler(rs)

	seen, err := h.IsTransactionProcessed("ch_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, rs.Set(store.CollectionTransactions, "ch_1", readmodel.TransactionReadModel{TransactionID: "ch_1"}))

	seen, err = h.IsTransactionProcessed("ch_1")
	require.NoError(t, err)
	assert.True(t, seen)
}
