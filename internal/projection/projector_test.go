package projection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/dispute"
	"github.com/example/settlement-core/internal/domain/order"
	"github.com/example/settlement-core/internal/fulfillment"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/infrastructure/store/mocks"
	"github.com/example/settlement-core/internal/numbering"
	"github.com/example/settlement-core/internal/readmodel"
	"github.com/example/settlement-core/internal/settlement"
)

func orderService(es store.EventStoreInterface) *order.Service {
	engine := fulfillment.NewEngine("https://shop.example.com", 0, []byte("key"))
	return order.NewService(es, settlement.NewCalculator(settlement.DefaultConfig()), numbering.NewSequence(), engine, "4123456789")
}

func lastEvent(t *testing.T, es *mocks.MockEventStore, aggregateID string) store.Event {
	t.Helper()
	events := es.GetEvents(aggregateID)
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func TestProjectOrderLifecycle(t *testing.T) {
	es := mocks.NewMockEventStore()
	rs := store.NewReadStore()
	p := NewProjector(es, rs)
	ctx := context.Background()

	svc := orderService(es)
	o, err := svc.Checkout(ctx, order.CheckoutInput{
		BuyerID: "buyer-1",
		Billing: order.BillingInfo{Name: "Thandi M", Email: "thandi@example.com"},
		Channel: settlement.ChannelDirect,
		Lines: []order.CartLine{
			{Product: order.ProductRef{ID: "prod-1", CreatorID: "creator-1", Name: "Go Patterns", PriceCents: 100000, Delivery: order.DeliveryDownload}, Quantity: 1},
		},
		VATRegistered: true,
	})
	require.NoError(t, err)
	_, err = svc.CapturePayment(ctx, o.ID, "sandbox", "ch_1", 3365, actor.System)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, o.ID, actor.System, "")
	require.NoError(t, err)

	require.NoError(t, p.HandleEvent(ctx, lastEvent(t, es, o.ID)))

	raw, ok, err := rs.Get(store.CollectionOrders, o.ID)
	require.NoError(t, err)
	require.True(t, ok)
	m := raw.(readmodel.OrderReadModel)

	assert.Equal(t, "completed", m.Status)
	assert.Equal(t, "captured", m.PaymentStatus)
	assert.Equal(t, int64(115000), m.Total)
	assert.Equal(t, "ch_1", m.GatewayTransactionID)
	assert.Equal(t, int64(3365), m.ProcessorFeeAmount)
	require.Len(t, m.Items, 1)
	assert.True(t, m.Items[0].IsFulfilled)
	require.Len(t, m.Items[0].DownloadLinks, 1)
	require.Len(t, m.History, 2)
	assert.Equal(t, "pending", m.History[0].Previous)
	assert.Equal(t, "completed", m.History[1].New)
}

func TestProjectorIsIdempotent(t *testing.T) {
	es := mocks.NewMockEventStore()
	rs := store.NewReadStore()
	p := NewProjector(es, rs)
	ctx := context.Background()

	dsvc := dispute.NewService(es)
	d, err := dsvc.Open(ctx, "order-1", "ORD-AAAA1111", dispute.TypeChargeback, "bank chargeback", actor.System)
	require.NoError(t, err)

	event := lastEvent(t, es, d.ID)
	require.NoError(t, p.HandleEvent(ctx, event))
	require.NoError(t, p.HandleEvent(ctx, event))

	all, err := rs.GetAll(store.CollectionDisputes)
	require.NoError(t, err)
	require.Len(t, all, 1)
	m := all[0].(readmodel.DisputeReadModel)
	assert.Equal(t, "open", m.Status)
	assert.Equal(t, "chargeback", m.Type)
}

func TestHandleMessageDecodesKafkaPayload(t *testing.T) {
	es := mocks.NewMockEventStore()
	rs := store.NewReadStore()
	p := NewProjector(es, rs)
	ctx := context.Background()

	dsvc := dispute.NewService(es)
	d, err := dsvc.Open(ctx, "order-1", "ORD-AAAA1111", dispute.TypeRefundRequest, "", actor.System)
	require.NoError(t, err)

	value, err := json.Marshal(lastEvent(t, es, d.ID))
	require.NoError(t, err)
	require.NoError(t, p.HandleMessage(ctx, []byte(d.ID), value))

	_, ok, err := rs.Get(store.CollectionDisputes, d.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRebuildReplaysAllAggregates(t *testing.T) {
	es := mocks.NewMockEventStore()
	rs := store.NewReadStore()
	p := NewProjector(es, rs)
	ctx := context.Background()

	dsvc := dispute.NewService(es)
	for i := 0; i < 3; i++ {
		_, err := dsvc.Open(ctx, "order-1", "ORD-AAAA1111", dispute.TypeBillingIssue, "", actor.System)
		require.NoError(t, err)
	}

	require.NoError(t, p.Rebuild(ctx))

	all, err := rs.GetAll(store.CollectionDisputes)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
