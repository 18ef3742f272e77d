package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/aggregate"
	"github.com/example/settlement-core/internal/infrastructure/store"
)

// StartInput describes a new subscription. VATRegistered and VATNumber are
// the seller's registration at start time; every renewal order reuses them.
// A nil EndDate means the subscription runs until cancelled.
type StartInput struct {
	BuyerID       string
	BillingName   string
	BillingEmail  string
	ProductID     string
	CreatorID     string
	PlanName      string
	Amount        int64
	Currency      string
	Channel       string
	Interval      Interval
	VATRegistered bool
	VATNumber     string
	EndDate       *time.Time
}

// Service owns all subscription state changes.
type Service struct {
	eventStore store.EventStoreInterface
	locks      sync.Map // subscription id -> *sync.Mutex
}

func NewService(eventStore store.EventStoreInterface) *Service {
	return &Service{eventStore: eventStore}
}

func (s *Service) lock(subID string) func() {
	mu, _ := s.locks.LoadOrStore(subID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Load rebuilds a subscription from its event stream.
func (s *Service) Load(ctx context.Context, subID string) (*Subscription, error) {
	sub, found, err := aggregate.Load(ctx, s.eventStore, subID, func() *Subscription { return &Subscription{} })
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %s: %w", subID, err)
	}
	if !found {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// Start activates a subscription with its first paid period beginning now.
// The first cycle is paid by the checkout order; billing picks up at the
// period end.
func (s *Service) Start(ctx context.Context, in StartInput, by actor.Actor) (*Subscription, error) {
	now := time.Now().UTC()
	periodEnd, err := AddInterval(now, in.Interval)
	if err != nil {
		return nil, err
	}

	subID := uuid.New().String()
	event := SubscriptionStarted{
		SubscriptionID: subID,
		BuyerID:        in.BuyerID,
		BillingName:    in.BillingName,
		BillingEmail:   in.BillingEmail,
		ProductID:      in.ProductID,
		CreatorID:      in.CreatorID,
		PlanName:       in.PlanName,
		Amount:         in.Amount,
		Currency:       in.Currency,
		Channel:        in.Channel,
		Interval:       in.Interval,
		VATRegistered:  in.VATRegistered,
		VATNumber:      in.VATNumber,
		PeriodStart:    now,
		PeriodEnd:      periodEnd,
		EndDate:        in.EndDate,
		Actor:          by,
		StartedAt:      now,
	}

	sub := &Subscription{}
	if err := s.append(ctx, sub, subID, EventSubscriptionStarted, event); err != nil {
		return nil, err
	}
	return sub, nil
}

// Renew advances the paid period after a successful billing charge.
// expectedPeriodEnd is a conditional claim: it must match the current period
// end, so two billers racing on the same cycle renew it exactly once — the
// loser gets ErrAlreadyRenewed. Renewal also recovers a past_due
// subscription and resets the failure counter.
func (s *Service) Renew(ctx context.Context, subID, orderID string, expectedPeriodEnd time.Time) (*Subscription, error) {
	defer s.lock(subID)()

	sub, err := s.Load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive && sub.Status != StatusPastDue {
		return nil, fmt.Errorf("%w: status %s", ErrNotRenewable, sub.Status)
	}
	if sub.EndDate != nil && !sub.CurrentPeriodEnd.Before(*sub.EndDate) {
		return nil, fmt.Errorf("%w: reached end date %s", ErrNotRenewable, sub.EndDate.Format(time.DateOnly))
	}
	if !sub.CurrentPeriodEnd.Equal(expectedPeriodEnd) {
		return nil, fmt.Errorf("%w: period ending %s", ErrAlreadyRenewed, expectedPeriodEnd.Format(time.RFC3339))
	}

	newStart := sub.CurrentPeriodEnd
	newEnd, err := AddInterval(newStart, sub.Interval)
	if err != nil {
		return nil, err
	}

	event := SubscriptionRenewed{
		SubscriptionID:    subID,
		OrderID:           orderID,
		PreviousPeriodEnd: sub.CurrentPeriodEnd,
		PeriodStart:       newStart,
		PeriodEnd:         newEnd,
		RenewedAt:         time.Now().UTC(),
	}
	if err := s.append(ctx, sub, subID, EventSubscriptionRenewed, event); err != nil {
		return nil, err
	}
	return sub, nil
}

// RecordPaymentFailure notes one failed billing charge. The third
// consecutive failure moves the subscription to past_due. Failures against
// paused or terminal subscriptions are ignored.
func (s *Service) RecordPaymentFailure(ctx context.Context, subID, reason string) (*Subscription, error) {
	defer s.lock(subID)()

	sub, err := s.Load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive && sub.Status != StatusPastDue {
		return sub, nil
	}

	event := PaymentFailureNoted{
		SubscriptionID: subID,
		Attempt:        sub.FailedAttempts + 1,
		Reason:         reason,
		FailedAt:       time.Now().UTC(),
	}
	if err := s.append(ctx, sub, subID, EventPaymentFailureNoted, event); err != nil {
		return nil, err
	}
	return sub, nil
}

// Pause suspends billing. The buyer keeps access until the paid period ends.
func (s *Service) Pause(ctx context.Context, subID string, by actor.Actor) (*Subscription, error) {
	defer s.lock(subID)()

	sub, err := s.Load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() && by.ID != sub.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot pause", ErrPermissionDenied, by.ID)
	}
	if !sub.CanTransitionTo(StatusPaused) {
		return nil, sub.transitionError(StatusPaused)
	}

	event := SubscriptionPaused{
		SubscriptionID: subID,
		Actor:          by,
		PausedAt:       time.Now().UTC(),
	}
	if err := s.append(ctx, sub, subID, EventSubscriptionPaused, event); err != nil {
		return nil, err
	}
	return sub, nil
}

// Resume reactivates a paused subscription. Billing resumes at the old
// period end when it is still in the future, otherwise immediately.
func (s *Service) Resume(ctx context.Context, subID string, by actor.Actor) (*Subscription, error) {
	defer s.lock(subID)()

	sub, err := s.Load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() && by.ID != sub.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot resume", ErrPermissionDenied, by.ID)
	}
	if sub.Status != StatusPaused {
		return nil, sub.transitionError(StatusActive)
	}

	now := time.Now().UTC()
	nextBilling := sub.CurrentPeriodEnd
	if nextBilling.Before(now) {
		nextBilling = now
	}

	event := SubscriptionResumed{
		SubscriptionID: subID,
		NextBilling:    nextBilling,
		Actor:          by,
		ResumedAt:      now,
	}
	if err := s.append(ctx, sub, subID, EventSubscriptionResumed, event); err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel stops a subscription for good. Access runs out with the paid
// period; no refund is implied.
func (s *Service) Cancel(ctx context.Context, subID, reason string, by actor.Actor) (*Subscription, error) {
	defer s.lock(subID)()

	sub, err := s.Load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() && by.ID != sub.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot cancel", ErrPermissionDenied, by.ID)
	}
	if !sub.CanTransitionTo(StatusCancelled) {
		return nil, sub.transitionError(StatusCancelled)
	}

	event := SubscriptionCancelled{
		SubscriptionID: subID,
		Reason:         reason,
		Actor:          by,
		CancelledAt:    time.Now().UTC(),
	}
	if err := s.append(ctx, sub, subID, EventSubscriptionCancelled, event); err != nil {
		return nil, err
	}
	return sub, nil
}

// Expire ends a subscription that reached its end date, or one the platform
// gave up on after a long past_due stretch.
func (s *Service) Expire(ctx context.Context, subID, reason string) (*Subscription, error) {
	defer s.lock(subID)()

	sub, err := s.Load(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !sub.CanTransitionTo(StatusExpired) {
		return nil, sub.transitionError(StatusExpired)
	}

	event := SubscriptionExpired{
		SubscriptionID: subID,
		Reason:         reason,
		ExpiredAt:      time.Now().UTC(),
	}
	if err := s.append(ctx, sub, subID, EventSubscriptionExpired, event); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) append(ctx context.Context, sub *Subscription, subID, eventType string, data any) error {
	event, err := s.eventStore.Append(ctx, subID, AggregateType, eventType, data)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	if err := sub.ApplyEvent(*event); err != nil {
		return fmt.Errorf("failed to apply %s: %w", eventType, err)
	}
	if err := aggregate.MaybeSnapshot(ctx, s.eventStore, sub, AggregateType); err != nil {
		return fmt.Errorf("failed to snapshot subscription: %w", err)
	}
	return nil
}
