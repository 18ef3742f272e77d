package refund

import (
	"time"

	"github.com/example/settlement-core/internal/actor"
)

const (
	EventRefundRequested = "RefundRequested"
	EventRefundApproved  = "RefundApproved"
	EventRefundRejected  = "RefundRejected"
	EventRefundProcessed = "RefundProcessed"
)

type RefundRequested struct {
	RefundID    string      `json:"refund_id"`
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	DisputeID   string      `json:"dispute_id,omitempty"`
	Amount      int64       `json:"amount"`
	Currency    string      `json:"currency"`
	Reason      string      `json:"reason"`
	RequestedBy actor.Actor `json:"requested_by"`
	RequestedAt time.Time   `json:"requested_at"`
}

type RefundApproved struct {
	RefundID   string      `json:"refund_id"`
	Actor      actor.Actor `json:"actor"`
	ApprovedAt time.Time   `json:"approved_at"`
}

type RefundRejected struct {
	RefundID   string      `json:"refund_id"`
	Reason     string      `json:"reason"`
	Actor      actor.Actor `json:"actor"`
	RejectedAt time.Time   `json:"rejected_at"`
}

// RefundProcessed records that the gateway confirmed the money movement.
type RefundProcessed struct {
	RefundID           string      `json:"refund_id"`
	ProcessorReference string      `json:"processor_reference"`
	Actor              actor.Actor `json:"actor"`
	ProcessedAt        time.Time   `json:"processed_at"`
}
