package dispute

import (
	"time"

	"github.com/example/settlement-core/internal/actor"
)

const (
	EventDisputeOpened    = "DisputeOpened"
	EventDisputeAssigned  = "DisputeAssigned"
	EventDisputeResolved  = "DisputeResolved"
	EventDisputeEscalated = "DisputeEscalated"
	EventDisputeClosed    = "DisputeClosed"
)

type DisputeOpened struct {
	DisputeID   string      `json:"dispute_id"`
	Reference   string      `json:"reference"`
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	Type        Type        `json:"type"`
	Reason      string      `json:"reason"`
	OpenedBy    actor.Actor `json:"opened_by"`
	OpenedAt    time.Time   `json:"opened_at"`
}

// DisputeAssigned moves open -> in_review.
type DisputeAssigned struct {
	DisputeID  string      `json:"dispute_id"`
	AssigneeID string      `json:"assignee_id"`
	Actor      actor.Actor `json:"actor"`
	AssignedAt time.Time   `json:"assigned_at"`
}

// DisputeResolved records the outcome. A buyer-favoring outcome carries the
// refund amount the resolution promised; the linked refund request is created
// by the command layer, not here.
type DisputeResolved struct {
	DisputeID    string      `json:"dispute_id"`
	Outcome      Outcome     `json:"outcome"`
	Resolution   string      `json:"resolution"`
	RefundAmount int64       `json:"refund_amount,omitempty"`
	Actor        actor.Actor `json:"actor"`
	ResolvedAt   time.Time   `json:"resolved_at"`
}

type DisputeEscalated struct {
	DisputeID   string      `json:"dispute_id"`
	Reason      string      `json:"reason"`
	Actor       actor.Actor `json:"actor"`
	EscalatedAt time.Time   `json:"escalated_at"`
}

type DisputeClosed struct {
	DisputeID string      `json:"dispute_id"`
	Actor     actor.Actor `json:"actor"`
	ClosedAt  time.Time   `json:"closed_at"`
}
