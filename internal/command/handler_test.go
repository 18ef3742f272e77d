package command

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/dispute"
	"github.com/example/settlement-core/internal/domain/order"
	"github.com/example/settlement-core/internal/domain/refund"
	"github.com/example/settlement-core/internal/domain/subscription"
	"github.com/example/settlement-core/internal/fulfillment"
	"github.com/example/settlement-core/internal/gateway"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/infrastructure/store/mocks"
	"github.com/example/settlement-core/internal/numbering"
	"github.com/example/settlement-core/internal/projection"
	"github.com/example/settlement-core/internal/query"
	"github.com/example/settlement-core/internal/settlement"
)

var (
	staff = actor.Actor{ID: "staff-1", Role: actor.RoleStaff}
	buyer = actor.Actor{ID: "buyer-1", Role: actor.RoleBuyer}
)

type fixture struct {
	handler   *Handler
	queries   *query.Handler
	sandbox   *gateway.Sandbox
	orders    *order.Service
	readStore *store.ReadStore
}

func newFixture() *fixture {
	es := mocks.NewMockEventStore()
	rs := store.NewReadStore()
	sandbox := gateway.NewSandbox()

	engine := fulfillment.NewEngine("https://shop.example.com", 0, []byte("key"))
	orders := order.NewService(es, settlement.NewCalculator(settlement.DefaultConfig()), numbering.NewSequence(), engine, "4123456789")
	disputes := dispute.NewService(es)
	refunds := refund.NewService(es)
	subs := subscription.NewService(es)
	queries := query.NewHandler(rs)
	projector := projection.NewProjector(es, rs)

	return &fixture{
		handler:   NewHandler(orders, disputes, refunds, subs, sandbox, "sandbox", queries, rs, projector),
		queries:   queries,
		sandbox:   sandbox,
		orders:    orders,
		readStore: rs,
	}
}

func checkoutInput() order.CheckoutInput {
	return order.CheckoutInput{
		BuyerID: "buyer-1",
		Billing: order.BillingInfo{Name: "Thandi M", Email: "thandi@example.com"},
		Channel: settlement.ChannelDirect,
		Lines: []order.CartLine{
			{Product: order.ProductRef{ID: "prod-1", CreatorID: "creator-1", Name: "Go Patterns", PriceCents: 100000, Delivery: order.DeliveryDownload}, Quantity: 1},
		},
		VATRegistered: true,
	}
}

func (f *fixture) paidOrder(t *testing.T) *order.Order {
	t.Helper()
	o, err := f.handler.PlaceOrder(context.Background(), checkoutInput())
	require.NoError(t, err)
	o, err = f.handler.PayOrder(context.Background(), o.ID, buyer)
	require.NoError(t, err)
	return o
}

func TestPayOrderCompletesAndRecordsTransaction(t *testing.T) {
	f := newFixture()

	o := f.paidOrder(t)
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.True(t, o.Items[0].IsFulfilled)
	require.NotEmpty(t, o.TransactionID)

	processed, err := f.queries.IsTransactionProcessed(o.TransactionID)
	require.NoError(t, err)
	assert.True(t, processed)

	// The read model is fresh without waiting for the async projector.
	m, err := f.queries.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", m.Status)
	assert.Equal(t, int64(115000), m.Total)
	// 2.9% of the charge plus 30 cents, as reported by the sandbox.
	assert.Equal(t, int64(3365), m.ProcessorFeeAmount)
}

func TestPayOrderDeclined(t *testing.T) {
	f := newFixture()

	o, err := f.handler.PlaceOrder(context.Background(), checkoutInput())
	require.NoError(t, err)

	f.sandbox.DeclineNext(1)
	o, err = f.handler.PayOrder(context.Background(), o.ID, buyer)
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	assert.Equal(t, order.StatusFailed, o.Status)

	m, err := f.queries.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", m.Status)
	assert.Equal(t, "failed", m.PaymentStatus)
}

func webhook(t *testing.T, txID, eventType string, payload any) gateway.WebhookEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return gateway.WebhookEvent{
		TransactionID: txID,
		EventType:     eventType,
		Payload:       raw,
		ReceivedAt:    time.Now().UTC(),
	}
}

func TestHandleWebhookCapturesAndDeduplicates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o, err := f.handler.PlaceOrder(ctx, checkoutInput())
	require.NoError(t, err)

	evt := webhook(t, "ch_hook_1", gateway.WebhookPaymentCaptured, gateway.WebhookPaymentPayload{
		OrderID: o.ID, Amount: o.Total, Currency: o.Currency,
	})
	require.NoError(t, f.handler.HandleWebhook(ctx, evt))

	m, err := f.queries.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", m.Status)
	assert.Equal(t, "ch_hook_1", m.GatewayTransactionID)

	// A redelivery is a no-op, not an invalid-transition error.
	require.NoError(t, f.handler.HandleWebhook(ctx, evt))
}

func TestHandleWebhookPaymentFailed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o, err := f.handler.PlaceOrder(ctx, checkoutInput())
	require.NoError(t, err)

	evt := webhook(t, "ch_hook_2", gateway.WebhookPaymentFailed, gateway.WebhookPaymentPayload{
		OrderID: o.ID, FailureReason: "insufficient_funds",
	})
	require.NoError(t, f.handler.HandleWebhook(ctx, evt))

	m, err := f.queries.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", m.Status)
}

func TestRequestRefundGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o, err := f.handler.PlaceOrder(ctx, checkoutInput())
	require.NoError(t, err)

	// Not completed yet.
	_, err = f.handler.RequestRefund(ctx, RequestRefundInput{OrderID: o.ID, Reason: "x", RequestedBy: buyer})
	assert.ErrorIs(t, err, ErrOrderNotRefundable)

	o = f.paidOrder(t)

	// Strangers cannot request refunds on someone else's order.
	_, err = f.handler.RequestRefund(ctx, RequestRefundInput{OrderID: o.ID, RequestedBy: actor.Actor{ID: "other", Role: actor.RoleBuyer}})
	assert.ErrorIs(t, err, order.ErrPermissionDenied)

	r, err := f.handler.RequestRefund(ctx, RequestRefundInput{OrderID: o.ID, Reason: "duplicate", RequestedBy: buyer})
	require.NoError(t, err)
	assert.Equal(t, refund.StatusPending, r.Status)
	assert.Equal(t, o.Total, r.Amount)

	// Only one open request per order.
	_, err = f.handler.RequestRefund(ctx, RequestRefundInput{OrderID: o.ID, Reason: "again", RequestedBy: buyer})
	assert.ErrorIs(t, err, ErrRefundAlreadyPending)
}

func TestRequestRefundSurvivesStaleReadModel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := f.paidOrder(t)
	r, err := f.handler.RequestRefund(ctx, RequestRefundInput{OrderID: o.ID, Reason: "duplicate", RequestedBy: buyer})
	require.NoError(t, err)

	// Lose the projection, as if the synchronous refresh had failed and the
	// async projector had not caught up yet.
	require.NoError(t, f.readStore.Delete(store.CollectionRefunds, r.ID))

	_, err = f.handler.RequestRefund(ctx, RequestRefundInput{OrderID: o.ID, Reason: "again", RequestedBy: buyer})
	assert.ErrorIs(t, err, ErrRefundAlreadyPending)
}

func TestApproveRefundSettlesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := f.paidOrder(t)
	r, err := f.handler.RequestRefund(ctx, RequestRefundInput{OrderID: o.ID, Amount: 115000, Reason: "duplicate", RequestedBy: buyer})
	require.NoError(t, err)

	r, err = f.handler.ApproveRefund(ctx, r.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusProcessed, r.Status)
	assert.NotEmpty(t, r.ProcessorReference)

	m, err := f.queries.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "refunded", m.Status)
	assert.Equal(t, "refunded", m.PaymentStatus)
}

func TestOpenAndResolveDisputeForSeller(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := f.paidOrder(t)
	d, err := f.handler.OpenDispute(ctx, OpenDisputeInput{OrderID: o.ID, Type: dispute.TypeProductIssue, Reason: "broken file", OpenedBy: buyer})
	require.NoError(t, err)

	m, err := f.queries.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "disputed", m.Status)

	// Disputed orders cannot take a second dispute.
	_, err = f.handler.OpenDispute(ctx, OpenDisputeInput{OrderID: o.ID, Type: dispute.TypeBillingIssue, OpenedBy: buyer})
	assert.ErrorIs(t, err, ErrOrderNotDisputable)

	_, err = f.handler.AssignDispute(ctx, d.ID, "staff-2", staff)
	require.NoError(t, err)
	d, err = f.handler.ResolveDispute(ctx, ResolveDisputeInput{DisputeID: d.ID, Outcome: dispute.OutcomeSeller, Resolution: "file verified", ResolvedBy: staff})
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusResolved, d.Status)

	m, err = f.queries.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", m.Status)
}

func TestResolveDisputeForBuyerRefundsOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := f.paidOrder(t)
	d, err := f.handler.OpenDispute(ctx, OpenDisputeInput{OrderID: o.ID, Type: dispute.TypeChargeback, Reason: "unauthorized", OpenedBy: buyer})
	require.NoError(t, err)
	_, err = f.handler.AssignDispute(ctx, d.ID, "staff-2", staff)
	require.NoError(t, err)

	d, err = f.handler.ResolveDispute(ctx, ResolveDisputeInput{DisputeID: d.ID, Outcome: dispute.OutcomeBuyer, Resolution: "refund in full", ResolvedBy: staff})
	require.NoError(t, err)
	assert.Equal(t, int64(115000), d.RefundAmount)

	orderModel, err := f.queries.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "refunded", orderModel.Status)

	refunds, err := f.queries.ListRefundsByOrder(o.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "processed", refunds[0].Status)
	assert.Equal(t, int64(115000), refunds[0].Amount)

	// The linked dispute is closed once the refund settles.
	dm, err := f.queries.GetDispute(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "closed", dm.Status)
}

func TestStartSubscriptionChargesFirstCycle(t *testing.T) {
	f := newFixture()

	sub, o, err := f.handler.StartSubscription(context.Background(), StartSubscriptionInput{
		BuyerID:      "buyer-1",
		BillingName:  "Thandi M",
		BillingEmail: "thandi@example.com",
		ProductID:    "prod-membership",
		CreatorID:    "creator-1",
		PlanName:     "Pro Monthly",
		Amount:       19900,
		Channel:      "direct",
		Interval:     subscription.IntervalMonthly,
		StartedBy:    buyer,
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.Equal(t, int64(19900), o.Subtotal)

	m, err := f.queries.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "active", m.Status)
	assert.Equal(t, int64(19900), m.Amount)
}

func TestSubscriptionVATFollowsSellerRegistration(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	subInput := StartSubscriptionInput{
		BuyerID:      "buyer-1",
		BillingName:  "Thandi M",
		BillingEmail: "thandi@example.com",
		ProductID:    "prod-membership",
		CreatorID:    "creator-1",
		PlanName:     "Pro Monthly",
		Amount:       19900,
		Channel:      "direct",
		Interval:     subscription.IntervalMonthly,
		StartedBy:    buyer,
	}

	// Seller without VAT registration: no VAT on the first cycle or on a
	// renewal.
	sub, o, err := f.handler.StartSubscription(ctx, subInput)
	require.NoError(t, err)
	assert.Zero(t, o.VATAmount)
	assert.Equal(t, int64(19900), o.Total)

	require.NoError(t, f.handler.RenewSubscription(ctx, sub.ID))
	orders, err := f.queries.ListOrdersByBuyer("buyer-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	renewal := orders[0]
	if renewal.ID == o.ID {
		renewal = orders[1]
	}
	assert.Zero(t, renewal.VATAmount)
	assert.Equal(t, int64(19900), renewal.Total)

	// Registered seller: 15% VAT on every cycle.
	registered := subInput
	registered.BuyerID = "buyer-2"
	registered.StartedBy = actor.Actor{ID: "buyer-2", Role: actor.RoleBuyer}
	registered.VATRegistered = true
	registered.VATNumber = "4123456789"

	sub2, o2, err := f.handler.StartSubscription(ctx, registered)
	require.NoError(t, err)
	assert.Equal(t, int64(2985), o2.VATAmount)
	assert.Equal(t, int64(22885), o2.Total)

	require.NoError(t, f.handler.RenewSubscription(ctx, sub2.ID))
	orders, err = f.queries.ListOrdersByBuyer("buyer-2")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	renewal = orders[0]
	if renewal.ID == o2.ID {
		renewal = orders[1]
	}
	assert.Equal(t, int64(2985), renewal.VATAmount)
	assert.Equal(t, int64(22885), renewal.Total)
}

func TestUpdateOrderStatusDispatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o, err := f.handler.PlaceOrder(ctx, checkoutInput())
	require.NoError(t, err)

	_, err = f.handler.UpdateOrderStatus(ctx, o.ID, order.StatusDisputed, "", staff)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	o, err = f.handler.UpdateOrderStatus(ctx, o.ID, order.StatusCancelled, "stock error", staff)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
}
