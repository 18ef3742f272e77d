// Package query serves reads from the projected models. Queries never touch
// the event store; a freshly written order becomes visible here once the
// projector catches up (or the command layer wrote the model synchronously).
package query

import (
	"errors"
	"sort"
	"time"

	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/readmodel"
)

var ErrNotFound = errors.New("read model not found")

type Handler struct {
	readStore store.ReadStoreInterface
}

func NewHandler(readStore store.ReadStoreInterface) *Handler {
	return &Handler{readStore: readStore}
}

// asModel accepts both the in-memory store's values and the SQL store's
// pointers.
func asModel[T any](v any) (T, bool) {
	if m, ok := v.(T); ok {
		return m, true
	}
	if p, ok := v.(*T); ok {
		return *p, true
	}
	var zero T
	return zero, false
}

func getModel[T any](rs store.ReadStoreInterface, collection, id string) (T, error) {
	var zero T
	raw, ok, err := rs.Get(collection, id)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrNotFound
	}
	m, ok := asModel[T](raw)
	if !ok {
		return zero, ErrNotFound
	}
	return m, nil
}

func allModels[T any](rs store.ReadStoreInterface, collection string) ([]T, error) {
	raw, err := rs.GetAll(collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		if m, ok := asModel[T](v); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetOrder returns one order projection.
func (h *Handler) GetOrder(orderID string) (readmodel.OrderReadModel, error) {
	return getModel[readmodel.OrderReadModel](h.readStore, store.CollectionOrders, orderID)
}

// ListOrdersByBuyer returns a buyer's orders, newest first.
func (h *Handler) ListOrdersByBuyer(buyerID string) ([]readmodel.OrderReadModel, error) {
	orders, err := allModels[readmodel.OrderReadModel](h.readStore, store.CollectionOrders)
	if err != nil {
		return nil, err
	}
	out := orders[:0]
	for _, o := range orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListOrdersByStatus returns orders in a given status, newest first.
func (h *Handler) ListOrdersByStatus(status string) ([]readmodel.OrderReadModel, error) {
	orders, err := allModels[readmodel.OrderReadModel](h.readStore, store.CollectionOrders)
	if err != nil {
		return nil, err
	}
	out := orders[:0]
	for _, o := range orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetDispute returns one dispute projection.
func (h *Handler) GetDispute(disputeID string) (readmodel.DisputeReadModel, error) {
	return getModel[readmodel.DisputeReadModel](h.readStore, store.CollectionDisputes, disputeID)
}

// ListDisputesByStatus returns disputes in a given status, oldest first so
// reviewers work the queue in order.
func (h *Handler) ListDisputesByStatus(status string) ([]readmodel.DisputeReadModel, error) {
	disputes, err := allModels[readmodel.DisputeReadModel](h.readStore, store.CollectionDisputes)
	if err != nil {
		return nil, err
	}
	out := disputes[:0]
	for _, d := range disputes {
		if d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// GetRefund returns one refund projection.
func (h *Handler) GetRefund(refundID string) (readmodel.RefundReadModel, error) {
	return getModel[readmodel.RefundReadModel](h.readStore, store.CollectionRefunds, refundID)
}

// ListRefundsByOrder returns every refund request made against an order.
func (h *Handler) ListRefundsByOrder(orderID string) ([]readmodel.RefundReadModel, error) {
	refunds, err := allModels[readmodel.RefundReadModel](h.readStore, store.CollectionRefunds)
	if err != nil {
		return nil, err
	}
	out := refunds[:0]
	for _, r := range refunds {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// PendingRefundExists reports whether an order already has an open (pending
// or approved) refund request.
func (h *Handler) PendingRefundExists(orderID string) (bool, error) {
	refunds, err := h.ListRefundsByOrder(orderID)
	if err != nil {
		return false, err
	}
	for _, r := range refunds {
		if r.Status == "pending" || r.Status == "approved" {
			return true, nil
		}
	}
	return false, nil
}

// GetSubscription returns one subscription projection.
func (h *Handler) GetSubscription(subID string) (readmodel.SubscriptionReadModel, error) {
	return getModel[readmodel.SubscriptionReadModel](h.readStore, store.CollectionSubscriptions, subID)
}

// ListDueSubscriptions returns active subscriptions whose next billing date
// has passed, soonest first.
func (h *Handler) ListDueSubscriptions(now time.Time) ([]readmodel.SubscriptionReadModel, error) {
	subs, err := allModels[readmodel.SubscriptionReadModel](h.readStore, store.CollectionSubscriptions)
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, s := range subs {
		if s.Status == "active" && !s.NextBillingDate.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextBillingDate.Before(out[j].NextBillingDate) })
	return out, nil
}

// IsTransactionProcessed reports whether a gateway transaction id has been
// seen before, for webhook deduplication.
func (h *Handler) IsTransactionProcessed(transactionID string) (bool, error) {
	_, ok, err := h.readStore.Get(store.CollectionTransactions, transactionID)
	return ok, err
}
