// Package refund models the money-return workflow: requested, reviewed, and
// finally processed against the payment gateway.
package refund

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/infrastructure/store"
)

const AggregateType = "Refund"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusProcessed Status = "processed"
)

var (
	ErrRefundNotFound    = errors.New("refund request not found")
	ErrAlreadyRequested  = errors.New("order already has an open refund request")
	ErrInvalidTransition = errors.New("invalid refund status transition")
	ErrInvalidAmount     = errors.New("refund amount must be positive")
	ErrExceedsOrderTotal = errors.New("refund amount exceeds order total")
	ErrPermissionDenied  = errors.New("actor may not perform this refund operation")
)

var validTransitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusProcessed},
	StatusRejected:  {},
	StatusProcessed: {},
}

// Refund is the aggregate root for one refund request. Amount is integer
// cents in Currency and never exceeds the order total.
type Refund struct {
	ID                 string      `json:"id"`
	OrderID            string      `json:"order_id"`
	OrderNumber        string      `json:"order_number"`
	DisputeID          string      `json:"dispute_id,omitempty"`
	Amount             int64       `json:"amount"`
	Currency           string      `json:"currency"`
	Status             Status      `json:"status"`
	Reason             string      `json:"reason"`
	RequestedBy        actor.Actor `json:"requested_by"`
	ProcessedBy        string      `json:"processed_by,omitempty"`
	ProcessorReference string      `json:"processor_reference,omitempty"`
	RejectionReason    string      `json:"rejection_reason,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	ProcessedAt        *time.Time  `json:"processed_at,omitempty"`
	Version            int         `json:"version"`
}

func (r *Refund) GetID() string    { return r.ID }
func (r *Refund) GetVersion() int  { return r.Version }
func (r *Refund) SetVersion(v int) { r.Version = v }

func (r *Refund) CanTransitionTo(target Status) bool {
	for _, s := range validTransitions[r.Status] {
		if s == target {
			return true
		}
	}
	return false
}

func (r *Refund) transitionError(target Status) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, r.Status, target)
}

// ApplyEvent applies a single event to the refund state.
func (r *Refund) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventRefundRequested:
		var data RefundRequested
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		r.ID = data.RefundID
		r.OrderID = data.OrderID
		r.OrderNumber = data.OrderNumber
		r.DisputeID = data.DisputeID
		r.Amount = data.Amount
		r.Currency = data.Currency
		r.Reason = data.Reason
		r.RequestedBy = data.RequestedBy
		r.Status = StatusPending
		r.CreatedAt = data.RequestedAt
		r.UpdatedAt = data.RequestedAt

	case EventRefundApproved:
		var data RefundApproved
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		r.Status = StatusApproved
		r.UpdatedAt = data.ApprovedAt

	case EventRefundRejected:
		var data RefundRejected
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		r.Status = StatusRejected
		r.RejectionReason = data.Reason
		r.UpdatedAt = data.RejectedAt

	case EventRefundProcessed:
		var data RefundProcessed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		r.Status = StatusProcessed
		r.ProcessedBy = data.Actor.ID
		r.ProcessorReference = data.ProcessorReference
		processedAt := data.ProcessedAt
		r.ProcessedAt = &processedAt
		r.UpdatedAt = data.ProcessedAt
	}

	r.Version = event.Version
	return nil
}
