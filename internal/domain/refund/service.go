package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/aggregate"
	"github.com/example/settlement-core/internal/infrastructure/store"
)

// RequestInput describes a new refund request. OrderTotal is the upper bound
// on Amount; a zero Amount means a full refund of OrderTotal.
type RequestInput struct {
	OrderID     string
	OrderNumber string
	DisputeID   string
	Amount      int64
	OrderTotal  int64
	Currency    string
	Reason      string
	RequestedBy actor.Actor
}

// Service owns all refund state changes.
type Service struct {
	eventStore store.EventStoreInterface
	locks      sync.Map // refund id -> *sync.Mutex
}

func NewService(eventStore store.EventStoreInterface) *Service {
	return &Service{eventStore: eventStore}
}

func (s *Service) lock(refundID string) func() {
	mu, _ := s.locks.LoadOrStore(refundID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Load rebuilds a refund request from its event stream.
func (s *Service) Load(ctx context.Context, refundID string) (*Refund, error) {
	r, found, err := aggregate.Load(ctx, s.eventStore, refundID, func() *Refund { return &Refund{} })
	if err != nil {
		return nil, fmt.Errorf("failed to load refund %s: %w", refundID, err)
	}
	if !found {
		return nil, ErrRefundNotFound
	}
	return r, nil
}

// Request opens a pending refund. Order-side checks (the order is completed,
// the requester may ask) belong to the command layer; the one-open-request
// rule is enforced here, against the event stream and under a per-order
// lock, so a stale read model cannot open a second request.
func (s *Service) Request(ctx context.Context, in RequestInput) (*Refund, error) {
	defer s.lock("order:" + in.OrderID)()

	amount := in.Amount
	if amount == 0 {
		amount = in.OrderTotal
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount > in.OrderTotal {
		return nil, fmt.Errorf("%w: %d > %d", ErrExceedsOrderTotal, amount, in.OrderTotal)
	}

	open, err := s.openRequestExists(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, fmt.Errorf("%w: order %s", ErrAlreadyRequested, in.OrderID)
	}

	refundID := uuid.New().String()
	event := RefundRequested{
		RefundID:    refundID,
		OrderID:     in.OrderID,
		OrderNumber: in.OrderNumber,
		DisputeID:   in.DisputeID,
		Amount:      amount,
		Currency:    in.Currency,
		Reason:      in.Reason,
		RequestedBy: in.RequestedBy,
		RequestedAt: time.Now().UTC(),
	}

	r := &Refund{}
	if err := s.append(ctx, r, refundID, EventRefundRequested, event); err != nil {
		return nil, err
	}
	return r, nil
}

// openRequestExists replays the refund streams touching an order and reports
// whether any request is still pending or approved.
func (s *Service) openRequestExists(ctx context.Context, orderID string) (bool, error) {
	for _, e := range s.eventStore.GetAllEvents() {
		if e.AggregateType != AggregateType || e.EventType != EventRefundRequested {
			continue
		}
		var data RefundRequested
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return false, fmt.Errorf("failed to decode %s for %s: %w", e.EventType, e.AggregateID, err)
		}
		if data.OrderID != orderID {
			continue
		}
		r, err := s.Load(ctx, e.AggregateID)
		if err != nil {
			return false, err
		}
		if r.Status == StatusPending || r.Status == StatusApproved {
			return true, nil
		}
	}
	return false, nil
}

// Approve moves a pending refund to approved. Staff only.
func (s *Service) Approve(ctx context.Context, refundID string, by actor.Actor) (*Refund, error) {
	defer s.lock(refundID)()

	r, err := s.Load(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() {
		return nil, fmt.Errorf("%w: %s cannot approve", ErrPermissionDenied, by.ID)
	}
	if !r.CanTransitionTo(StatusApproved) {
		return nil, r.transitionError(StatusApproved)
	}

	event := RefundApproved{
		RefundID:   refundID,
		Actor:      by,
		ApprovedAt: time.Now().UTC(),
	}
	if err := s.append(ctx, r, refundID, EventRefundApproved, event); err != nil {
		return nil, err
	}
	return r, nil
}

// Reject declines a pending refund. Staff only.
func (s *Service) Reject(ctx context.Context, refundID, reason string, by actor.Actor) (*Refund, error) {
	defer s.lock(refundID)()

	r, err := s.Load(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() {
		return nil, fmt.Errorf("%w: %s cannot reject", ErrPermissionDenied, by.ID)
	}
	if !r.CanTransitionTo(StatusRejected) {
		return nil, r.transitionError(StatusRejected)
	}

	event := RefundRejected{
		RefundID:   refundID,
		Reason:     reason,
		Actor:      by,
		RejectedAt: time.Now().UTC(),
	}
	if err := s.append(ctx, r, refundID, EventRefundRejected, event); err != nil {
		return nil, err
	}
	return r, nil
}

// MarkProcessed records the gateway confirmation for an approved refund.
func (s *Service) MarkProcessed(ctx context.Context, refundID, processorReference string, by actor.Actor) (*Refund, error) {
	defer s.lock(refundID)()

	r, err := s.Load(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() {
		return nil, fmt.Errorf("%w: %s cannot process", ErrPermissionDenied, by.ID)
	}
	if !r.CanTransitionTo(StatusProcessed) {
		return nil, r.transitionError(StatusProcessed)
	}

	event := RefundProcessed{
		RefundID:           refundID,
		ProcessorReference: processorReference,
		Actor:              by,
		ProcessedAt:        time.Now().UTC(),
	}
	if err := s.append(ctx, r, refundID, EventRefundProcessed, event); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) append(ctx context.Context, r *Refund, refundID, eventType string, data any) error {
	event, err := s.eventStore.Append(ctx, refundID, AggregateType, eventType, data)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	if err := r.ApplyEvent(*event); err != nil {
		return fmt.Errorf("failed to apply %s: %w", eventType, err)
	}
	if err := aggregate.MaybeSnapshot(ctx, s.eventStore, r, AggregateType); err != nil {
		return fmt.Errorf("failed to snapshot refund: %w", err)
	}
	return nil
}
