package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/order"
	"github.com/example/settlement-core/internal/email"
	"github.com/example/settlement-core/internal/fulfillment"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/infrastructure/store/mocks"
	"github.com/example/settlement-core/internal/numbering"
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

func TestOrderPlacedSendsConfirmation(t *testing.T) {
	es := mocks.NewMockEventStore()
	sender := email.NewLogSender()
	h := NewHandler(es, sender)
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

	require.NoError(t, h.HandleEvent(ctx, lastEvent(t, es, o.ID)))

	require.Len(t, sender.Sent, 1)
	msg := sender.Sent[0]
	assert.Equal(t, "thandi@example.com", msg.To)
	assert.Contains(t, msg.Subject, o.Number)
	assert.Contains(t, msg.Body, "ZAR 1150.00")
}

func TestOrderCompletedSendsDeliveryEmail(t *testing.T) {
	es := mocks.NewMockEventStore()
	sender := email.NewLogSender()
	h := NewHandler(es, sender)
	ctx := context.Background()

	svc := orderService(es)
	o, err := svc.Checkout(ctx, order.CheckoutInput{
		BuyerID: "buyer-1",
		Billing: order.BillingInfo{Name: "Thandi M", Email: "thandi@example.com"},
		Channel: settlement.ChannelDirect,
		Lines: []order.CartLine{
			{Product: order.ProductRef{ID: "prod-1", CreatorID: "creator-1", Name: "Audio Plugin", PriceCents: 50000, Delivery: order.DeliveryLicense, Licensed: true}, Quantity: 1},
		},
		VATRegistered: true,
	})
	require.NoError(t, err)
	_, err = svc.CapturePayment(ctx, o.ID, "sandbox", "ch_1", 1480, actor.System)
	require.NoError(t, err)
	o, err = svc.Complete(ctx, o.ID, actor.System, "")
	require.NoError(t, err)

	completed := store.Event{}
	for _, e := range es.GetEvents(o.ID) {
		if e.EventType == order.EventOrderCompleted {
			completed = e
		}
	}
	require.NoError(t, h.HandleEvent(ctx, completed))

	require.Len(t, sender.Sent, 1)
	assert.Contains(t, sender.Sent[0].Body, o.Items[0].LicenseKey)
}

func TestIrrelevantEventsSendNothing(t *testing.T) {
	es := mocks.NewMockEventStore()
	sender := email.NewLogSender()
	h := NewHandler(es, sender)

	err := h.HandleEvent(context.Background(), store.Event{EventType: "SomethingElse"})
	require.NoError(t, err)
	assert.Empty(t, sender.Sent)
}
