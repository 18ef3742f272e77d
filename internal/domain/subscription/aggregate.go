// Package subscription models recurring purchases: the paid period, the next
// billing date, and the dunning state after failed payments.
package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/settlement-core/internal/infrastructure/store"
)

const AggregateType = "Subscription"

// MaxFailedAttempts is how many consecutive failed charges a subscription
// survives before it goes past_due.
const MaxFailedAttempts = 3

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Interval is the billing cadence.
type Interval string

const (
	IntervalWeekly    Interval = "weekly"
	IntervalMonthly   Interval = "monthly"
	IntervalQuarterly Interval = "quarterly"
	IntervalAnnually  Interval = "annually"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidTransition    = errors.New("invalid subscription status transition")
	ErrInvalidInterval      = errors.New("invalid billing interval")
	ErrNotRenewable         = errors.New("subscription is not renewable")
	ErrAlreadyRenewed       = errors.New("billing period already renewed")
	ErrPermissionDenied     = errors.New("actor may not perform this subscription operation")
)

var validTransitions = map[Status][]Status{
	StatusActive:    {StatusPaused, StatusPastDue, StatusCancelled, StatusExpired},
	StatusPaused:    {StatusActive, StatusCancelled, StatusExpired},
	StatusPastDue:   {StatusActive, StatusCancelled, StatusExpired},
	StatusCancelled: {},
	StatusExpired:   {},
}

// Subscription is the aggregate root. Amount is the per-cycle charge in
// integer cents of Currency; the settlement breakdown is computed fresh on
// every renewal order.
type Subscription struct {
	ID                 string     `json:"id"`
	BuyerID            string     `json:"buyer_id"`
	BillingName        string     `json:"billing_name"`
	BillingEmail       string     `json:"billing_email"`
	ProductID          string     `json:"product_id"`
	CreatorID          string     `json:"creator_id"`
	PlanName           string     `json:"plan_name"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	Channel            string     `json:"channel"`
	Interval           Interval   `json:"interval"`
	VATRegistered      bool       `json:"vat_registered"`
	VATNumber          string     `json:"vat_number,omitempty"`
	Status             Status     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	NextBillingDate    time.Time  `json:"next_billing_date"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	FailedAttempts     int        `json:"failed_payment_attempts"`
	LastOrderID        string     `json:"last_order_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	Version            int        `json:"version"`
}

func (s *Subscription) GetID() string    { return s.ID }
func (s *Subscription) GetVersion() int  { return s.Version }
func (s *Subscription) SetVersion(v int) { s.Version = v }

func (s *Subscription) CanTransitionTo(target Status) bool {
	for _, st := range validTransitions[s.Status] {
		if st == target {
			return true
		}
	}
	return false
}

func (s *Subscription) transitionError(target Status) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, s.Status, target)
}

// IsDue reports whether the subscription should be billed at the given time.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.Status == StatusActive && !s.NextBillingDate.After(now)
}

// IsEnded reports whether the subscription has reached its fixed end date.
// Subscriptions without one run until cancelled.
func (s *Subscription) IsEnded(now time.Time) bool {
	return s.EndDate != nil && !s.EndDate.After(now)
}

// AddInterval advances a date by one billing interval. Weekly is exactly
// seven days; the calendar intervals clamp to the last day of the target
// month, so Jan 31 + 1 month is Feb 28 (or 29), never Mar 2.
func AddInterval(t time.Time, interval Interval) (time.Time, error) {
	switch interval {
	case IntervalWeekly:
		return t.AddDate(0, 0, 7), nil
	case IntervalMonthly:
		return addMonths(t, 1), nil
	case IntervalQuarterly:
		return addMonths(t, 3), nil
	case IntervalAnnually:
		return addMonths(t, 12), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ApplyEvent applies a single event to the subscription state.
func (s *Subscription) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventSubscriptionStarted:
		var data SubscriptionStarted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		s.ID = data.SubscriptionID
		s.BuyerID = data.BuyerID
		s.BillingName = data.BillingName
		s.BillingEmail = data.BillingEmail
		s.ProductID = data.ProductID
		s.CreatorID = data.CreatorID
		s.PlanName = data.PlanName
		s.Amount = data.Amount
		s.Currency = data.Currency
		s.Channel = data.Channel
		s.Interval = data.Interval
		s.VATRegistered = data.VATRegistered
		s.VATNumber = data.VATNumber
		s.EndDate = data.EndDate
		s.Status = StatusActive
		s.CurrentPeriodStart = data.PeriodStart
		s.CurrentPeriodEnd = data.PeriodEnd
		s.NextBillingDate = data.PeriodEnd
		s.CreatedAt = data.StartedAt
		s.UpdatedAt = data.StartedAt

	case EventSubscriptionRenewed:
		var data SubscriptionRenewed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		s.Status = StatusActive
		s.CurrentPeriodStart = data.PeriodStart
		s.CurrentPeriodEnd = data.PeriodEnd
		s.NextBillingDate = data.PeriodEnd
		s.FailedAttempts = 0
		s.LastOrderID = data.OrderID
		s.UpdatedAt = data.RenewedAt

	case EventPaymentFailureNoted:
		var data PaymentFailureNoted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		s.FailedAttempts = data.Attempt
		if s.FailedAttempts >= MaxFailedAttempts && s.Status == StatusActive {
			s.Status = StatusPastDue
		}
		s.UpdatedAt = data.FailedAt

	case EventSubscriptionPaused:
		var data SubscriptionPaused
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		s.Status = StatusPaused
		s.UpdatedAt = data.PausedAt

	case EventSubscriptionResumed:
		var data SubscriptionResumed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		s.Status = StatusActive
		s.NextBillingDate = data.NextBilling
		s.UpdatedAt = data.ResumedAt

	case EventSubscriptionCancelled:
		var data SubscriptionCancelled
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		s.Status = StatusCancelled
		cancelledAt := data.CancelledAt
		s.CancelledAt = &cancelledAt
		s.UpdatedAt = data.CancelledAt

	case EventSubscriptionExpired:
		var data SubscriptionExpired
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		s.Status = StatusExpired
		s.UpdatedAt = data.ExpiredAt
	}

	s.Version = event.Version
	return nil
}
