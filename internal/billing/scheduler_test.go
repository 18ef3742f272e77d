package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/command"
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

type fixture struct {
	handler   *command.Handler
	queries   *query.Handler
	sandbox   *gateway.Sandbox
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	es := mocks.NewMockEventStore()
	rs := store.NewReadStore()
	sandbox := gateway.NewSandbox()

	engine := fulfillment.NewEngine("https://shop.example.com", 0, []byte("key"))
	orders := order.NewService(es, settlement.NewCalculator(settlement.DefaultConfig()), numbering.NewSequence(), engine, "4123456789")
	queries := query.NewHandler(rs)
	projector := projection.NewProjector(es, rs)
	handler := command.NewHandler(
		orders,
		dispute.NewService(es),
		refund.NewService(es),
		subscription.NewService(es),
		sandbox, "sandbox", queries, rs, projector,
	)

	return &fixture{
		handler:   handler,
		queries:   queries,
		sandbox:   sandbox,
		scheduler: NewScheduler(queries, handler, time.Minute),
	}
}

func (f *fixture) startSubscription(t *testing.T) *subscription.Subscription {
	t.Helper()
	sub, _, err := f.handler.StartSubscription(context.Background(), command.StartSubscriptionInput{
		BuyerID:      "buyer-1",
		BillingName:  "Thandi M",
		BillingEmail: "thandi@example.com",
		ProductID:    "prod-membership",
		CreatorID:    "creator-1",
		PlanName:     "Pro Monthly",
		Amount:       19900,
		Channel:      "direct",
		Interval:     subscription.IntervalMonthly,
		StartedBy:    actor.Actor{ID: "buyer-1", Role: actor.RoleBuyer},
	})
	require.NoError(t, err)
	return sub
}

func TestRunOnceSkipsNotYetDue(t *testing.T) {
	f := newFixture(t)
	f.startSubscription(t)

	renewed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, renewed)
}

func TestRunOnceRenewsDueSubscription(t *testing.T) {
	f := newFixture(t)
	sub := f.startSubscription(t)
	firstPeriodEnd := sub.CurrentPeriodEnd

	f.scheduler.now = func() time.Time { return firstPeriodEnd.Add(time.Hour) }

	renewed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, renewed)

	m, err := f.queries.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "active", m.Status)
	assert.True(t, m.CurrentPeriodEnd.After(firstPeriodEnd))
	assert.Equal(t, firstPeriodEnd, m.CurrentPeriodStart)

	// The cycle was paid by a completed renewal order.
	orders, err := f.queries.ListOrdersByBuyer("buyer-1")
	require.NoError(t, err)
	require.Len(t, orders, 2) // initial charge + renewal
	assert.Equal(t, "completed", orders[0].Status)

	// Same scan time again: the period moved, nothing is due.
	renewed, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, renewed)
}

func TestRunOnceExpiresSubscriptionPastEndDate(t *testing.T) {
	f := newFixture(t)

	end := time.Now().UTC().Add(time.Minute)
	sub, _, err := f.handler.StartSubscription(context.Background(), command.StartSubscriptionInput{
		BuyerID:      "buyer-1",
		BillingName:  "Thandi M",
		BillingEmail: "thandi@example.com",
		ProductID:    "prod-membership",
		CreatorID:    "creator-1",
		PlanName:     "Pro Monthly",
		Amount:       19900,
		Channel:      "direct",
		Interval:     subscription.IntervalMonthly,
		EndDate:      &end,
		StartedBy:    actor.Actor{ID: "buyer-1", Role: actor.RoleBuyer},
	})
	require.NoError(t, err)

	f.scheduler.now = func() time.Time { return sub.CurrentPeriodEnd.Add(time.Hour) }

	renewed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, renewed)

	m, err := f.queries.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "expired", m.Status)

	// No renewal order was charged; only the initial cycle exists.
	orders, err := f.queries.ListOrdersByBuyer("buyer-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	// Expired subscriptions drop out of the scan.
	renewed, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, renewed)
}

func TestDeclinedRenewalCountsFailure(t *testing.T) {
	f := newFixture(t)
	sub := f.startSubscription(t)
	f.scheduler.now = func() time.Time { return sub.CurrentPeriodEnd.Add(time.Hour) }

	f.sandbox.DeclineNext(2)

	renewed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, renewed)

	m, err := f.queries.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "active", m.Status)
	assert.Equal(t, 1, m.FailedPaymentAttempts)

	// Second failed scan, then a successful one clears the counter.
	_, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	m, _ = f.queries.GetSubscription(sub.ID)
	assert.Equal(t, 2, m.FailedPaymentAttempts)

	renewed, err = f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, renewed)
	m, _ = f.queries.GetSubscription(sub.ID)
	assert.Equal(t, 0, m.FailedPaymentAttempts)
}

func TestThirdFailureMovesPastDueAndStopsBilling(t *testing.T) {
	f := newFixture(t)
	sub := f.startSubscription(t)
	f.scheduler.now = func() time.Time { return sub.CurrentPeriodEnd.Add(time.Hour) }

	f.sandbox.DeclineNext(3)
	for i := 0; i < 3; i++ {
		_, err := f.scheduler.RunOnce(context.Background())
		require.NoError(t, err)
	}

	m, err := f.queries.GetSubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "past_due", m.Status)
	assert.Equal(t, 3, m.FailedPaymentAttempts)

	// past_due subscriptions are not selected by the scan.
	renewed, err := f.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, renewed)
}
