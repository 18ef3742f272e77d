// Package dispute models buyer complaints against completed orders and their
// review workflow.
package dispute

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/infrastructure/store"
)

const AggregateType = "Dispute"

type Status string

const (
	StatusOpen      Status = "open"
	StatusInReview  Status = "in_review"
	StatusResolved  Status = "resolved"
	StatusEscalated Status = "escalated"
	StatusClosed    Status = "closed"
)

// Type classifies what the buyer is disputing.
type Type string

const (
	TypeChargeback    Type = "chargeback"
	TypeRefundRequest Type = "refund_request"
	TypeProductIssue  Type = "product_issue"
	TypeDeliveryIssue Type = "delivery_issue"
	TypeBillingIssue  Type = "billing_issue"
)

// Outcome says which side a resolution favored.
type Outcome string

const (
	OutcomeBuyer  Outcome = "buyer"
	OutcomeSeller Outcome = "seller"
)

var (
	ErrDisputeNotFound   = errors.New("dispute not found")
	ErrInvalidTransition = errors.New("invalid dispute status transition")
	ErrInvalidType       = errors.New("invalid dispute type")
	ErrInvalidOutcome    = errors.New("invalid dispute outcome")
	ErrPermissionDenied  = errors.New("actor may not perform this dispute operation")
)

var validTransitions = map[Status][]Status{
	StatusOpen:     {StatusInReview},
	StatusInReview: {StatusResolved, StatusEscalated},
	// Escalated disputes stay resolvable: senior review records an outcome
	// the same way first-line review does, or closes without one.
	StatusEscalated: {StatusResolved, StatusClosed},
	StatusResolved:  {StatusClosed},
	StatusClosed:    {},
}

func validType(t Type) bool {
	switch t {
	case TypeChargeback, TypeRefundRequest, TypeProductIssue, TypeDeliveryIssue, TypeBillingIssue:
		return true
	}
	return false
}

// Dispute is the aggregate root. Reference is the human-facing "DSP-..."
// identifier; ID is the aggregate id.
type Dispute struct {
	ID           string       `json:"id"`
	Reference    string       `json:"reference"`
	OrderID      string       `json:"order_id"`
	OrderNumber  string       `json:"order_number"`
	Type         Type         `json:"type"`
	Status       Status       `json:"status"`
	Reason       string       `json:"reason"`
	OpenedBy     actor.Actor  `json:"opened_by"`
	AssigneeID   string       `json:"assignee_id,omitempty"`
	Outcome      Outcome      `json:"outcome,omitempty"`
	Resolution   string       `json:"resolution,omitempty"`
	RefundAmount int64        `json:"refund_amount,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ResolvedAt   *time.Time   `json:"resolved_at,omitempty"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
	Version      int          `json:"version"`
}

func (d *Dispute) GetID() string    { return d.ID }
func (d *Dispute) GetVersion() int  { return d.Version }
func (d *Dispute) SetVersion(v int) { d.Version = v }

func (d *Dispute) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[d.Status] {
		if s == target {
			return true
		}
	}
	return false
}

func (d *Dispute) transitionError(target Status) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, d.Status, target)
}

// canWork reports whether the actor may move the dispute through review:
// staff always, plus the assigned reviewer.
func (d *Dispute) canWork(by actor.Actor) bool {
	return by.IsStaff() || by.IsSystem() || (d.AssigneeID != "" && by.ID == d.AssigneeID)
}

// ApplyEvent applies a single event to the dispute state.
func (d *Dispute) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventDisputeOpened:
		var data DisputeOpened
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		d.ID = data.DisputeID
		d.Reference = data.Reference
		d.OrderID = data.OrderID
		d.OrderNumber = data.OrderNumber
		d.Type = data.Type
		d.Reason = data.Reason
		d.OpenedBy = data.OpenedBy
		d.Status = StatusOpen
		d.CreatedAt = data.OpenedAt
		d.UpdatedAt = data.OpenedAt

	case EventDisputeAssigned:
		var data DisputeAssigned
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		d.AssigneeID = data.AssigneeID
		d.Status = StatusInReview
		d.UpdatedAt = data.AssignedAt

	case EventDisputeResolved:
		var data DisputeResolved
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		d.Outcome = data.Outcome
		d.Resolution = data.Resolution
		d.RefundAmount = data.RefundAmount
		d.Status = StatusResolved
		resolvedAt := data.ResolvedAt
		d.ResolvedAt = &resolvedAt
		d.UpdatedAt = data.ResolvedAt

	case EventDisputeEscalated:
		var data DisputeEscalated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		d.Status = StatusEscalated
		d.UpdatedAt = data.EscalatedAt

	case EventDisputeClosed:
		var data DisputeClosed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		d.Status = StatusClosed
		closedAt := data.ClosedAt
		d.ClosedAt = &closedAt
		d.UpdatedAt = data.ClosedAt
	}

	d.Version = event.Version
	return nil
}
