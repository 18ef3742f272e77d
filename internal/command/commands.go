package command

import (
	"time"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/dispute"
	"github.com/example/settlement-core/internal/domain/subscription"
)

// RequestRefundInput asks for money back on a completed order. A zero Amount
// means the full order total.
type RequestRefundInput struct {
	OrderID     string
	Amount      int64
	Reason      string
	RequestedBy actor.Actor
}

// OpenDisputeInput opens a dispute against a completed order.
type OpenDisputeInput struct {
	OrderID  string
	Type     dispute.Type
	Reason   string
	OpenedBy actor.Actor
}

// ResolveDisputeInput records a dispute outcome. RefundAmount applies to
// buyer-favoring outcomes only; zero means the full order total.
type ResolveDisputeInput struct {
	DisputeID    string
	Outcome      dispute.Outcome
	Resolution   string
	RefundAmount int64
	ResolvedBy   actor.Actor
}

// StartSubscriptionInput opens a recurring purchase. The first cycle is
// charged immediately through a regular order. VATRegistered and VATNumber
// describe the seller and carry over to every renewal order; a nil EndDate
// means the subscription runs until cancelled.
type StartSubscriptionInput struct {
	BuyerID       string
	BillingName   string
	BillingEmail  string
	ProductID     string
	CreatorID     string
	PlanName      string
	Amount        int64
	Currency      string
	Channel       string
	Interval      subscription.Interval
	VATRegistered bool
	VATNumber     string
	EndDate       *time.Time
	StartedBy     actor.Actor
}
