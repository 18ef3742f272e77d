package subscription

import (
	"time"

	"github.com/example/settlement-core/internal/actor"
)

const (
	EventSubscriptionStarted   = "SubscriptionStarted"
	EventSubscriptionRenewed   = "SubscriptionRenewed"
	EventPaymentFailureNoted   = "SubscriptionPaymentFailed"
	EventSubscriptionPaused    = "SubscriptionPaused"
	EventSubscriptionResumed   = "SubscriptionResumed"
	EventSubscriptionCancelled = "SubscriptionCancelled"
	EventSubscriptionExpired   = "SubscriptionExpired"
)

type SubscriptionStarted struct {
	SubscriptionID string      `json:"subscription_id"`
	BuyerID        string      `json:"buyer_id"`
	BillingName    string      `json:"billing_name"`
	BillingEmail   string      `json:"billing_email"`
	ProductID      string      `json:"product_id"`
	CreatorID      string      `json:"creator_id"`
	PlanName       string      `json:"plan_name"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency"`
	Channel        string      `json:"channel"`
	Interval       Interval    `json:"interval"`
	VATRegistered  bool        `json:"vat_registered"`
	VATNumber      string      `json:"vat_number,omitempty"`
	PeriodStart    time.Time   `json:"period_start"`
	PeriodEnd      time.Time   `json:"period_end"`
	EndDate        *time.Time  `json:"end_date,omitempty"`
	Actor          actor.Actor `json:"actor"`
	StartedAt      time.Time   `json:"started_at"`
}

// SubscriptionRenewed advances the paid period after a successful billing
// cycle. PreviousPeriodEnd is the period the renewal claimed, OrderID the
// renewal order that paid for it.
type SubscriptionRenewed struct {
	SubscriptionID    string    `json:"subscription_id"`
	OrderID           string    `json:"order_id"`
	PreviousPeriodEnd time.Time `json:"previous_period_end"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	RenewedAt         time.Time `json:"renewed_at"`
}

type PaymentFailureNoted struct {
	SubscriptionID string    `json:"subscription_id"`
	Attempt        int       `json:"attempt"`
	Reason         string    `json:"reason"`
	FailedAt       time.Time `json:"failed_at"`
}

type SubscriptionPaused struct {
	SubscriptionID string      `json:"subscription_id"`
	Actor          actor.Actor `json:"actor"`
	PausedAt       time.Time   `json:"paused_at"`
}

type SubscriptionResumed struct {
	SubscriptionID string      `json:"subscription_id"`
	NextBilling    time.Time   `json:"next_billing_date"`
	Actor          actor.Actor `json:"actor"`
	ResumedAt      time.Time   `json:"resumed_at"`
}

type SubscriptionCancelled struct {
	SubscriptionID string      `json:"subscription_id"`
	Reason         string      `json:"reason"`
	Actor          actor.Actor `json:"actor"`
	CancelledAt    time.Time   `json:"cancelled_at"`
}

type SubscriptionExpired struct {
	SubscriptionID string    `json:"subscription_id"`
	Reason         string    `json:"reason"`
	ExpiredAt      time.Time `json:"expired_at"`
}
