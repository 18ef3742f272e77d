package dispute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/aggregate"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/numbering"
)

// Service owns all dispute state changes.
type Service struct {
	eventStore store.EventStoreInterface
	locks      sync.Map // dispute id -> *sync.Mutex
}

func NewService(eventStore store.EventStoreInterface) *Service {
	return &Service{eventStore: eventStore}
}

func (s *Service) lock(disputeID string) func() {
	mu, _ := s.locks.LoadOrStore(disputeID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Load rebuilds a dispute from its event stream.
func (s *Service) Load(ctx context.Context, disputeID string) (*Dispute, error) {
	d, found, err := aggregate.Load(ctx, s.eventStore, disputeID, func() *Dispute { return &Dispute{} })
	if err != nil {
		return nil, fmt.Errorf("failed to load dispute %s: %w", disputeID, err)
	}
	if !found {
		return nil, ErrDisputeNotFound
	}
	return d, nil
}

// Open starts a dispute against an order. Order-side checks (the order is
// completed, the actor may dispute it) belong to the command layer; this
// validates the dispute itself.
func (s *Service) Open(ctx context.Context, orderID, orderNumber string, disputeType Type, reason string, by actor.Actor) (*Dispute, error) {
	if !validType(disputeType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, disputeType)
	}

	disputeID := uuid.New().String()
	event := DisputeOpened{
		DisputeID:   disputeID,
		Reference:   numbering.DisputeID(),
		OrderID:     orderID,
		OrderNumber: orderNumber,
		Type:        disputeType,
		Reason:      reason,
		OpenedBy:    by,
		OpenedAt:    time.Now().UTC(),
	}

	d := &Dispute{}
	if err := s.append(ctx, d, disputeID, EventDisputeOpened, event); err != nil {
		return nil, err
	}
	return d, nil
}

// Assign hands the dispute to a reviewer and moves it to in_review. Staff
// only.
func (s *Service) Assign(ctx context.Context, disputeID, assigneeID string, by actor.Actor) (*Dispute, error) {
	defer s.lock(disputeID)()

	d, err := s.Load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() {
		return nil, fmt.Errorf("%w: %s cannot assign", ErrPermissionDenied, by.ID)
	}
	if !d.CanTransitionTo(StatusInReview) {
		return nil, d.transitionError(StatusInReview)
	}

	event := DisputeAssigned{
		DisputeID:  disputeID,
		AssigneeID: assigneeID,
		Actor:      by,
		AssignedAt: time.Now().UTC(),
	}
	if err := s.append(ctx, d, disputeID, EventDisputeAssigned, event); err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve records the outcome of a review. refundAmount is only meaningful
// for buyer-favoring outcomes and is what the linked refund request will be
// created for.
func (s *Service) Resolve(ctx context.Context, disputeID string, outcome Outcome, resolution string, refundAmount int64, by actor.Actor) (*Dispute, error) {
	defer s.lock(disputeID)()

	d, err := s.Load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.canWork(by) {
		return nil, fmt.Errorf("%w: %s cannot resolve", ErrPermissionDenied, by.ID)
	}
	if outcome != OutcomeBuyer && outcome != OutcomeSeller {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if !d.CanTransitionTo(StatusResolved) {
		return nil, d.transitionError(StatusResolved)
	}
	if outcome != OutcomeBuyer {
		refundAmount = 0
	}

	event := DisputeResolved{
		DisputeID:    disputeID,
		Outcome:      outcome,
		Resolution:   resolution,
		RefundAmount: refundAmount,
		Actor:        by,
		ResolvedAt:   time.Now().UTC(),
	}
	if err := s.append(ctx, d, disputeID, EventDisputeResolved, event); err != nil {
		return nil, err
	}
	return d, nil
}

// Escalate flags a dispute the reviewer cannot settle.
func (s *Service) Escalate(ctx context.Context, disputeID, reason string, by actor.Actor) (*Dispute, error) {
	defer s.lock(disputeID)()

	d, err := s.Load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !d.canWork(by) {
		return nil, fmt.Errorf("%w: %s cannot escalate", ErrPermissionDenied, by.ID)
	}
	if !d.CanTransitionTo(StatusEscalated) {
		return nil, d.transitionError(StatusEscalated)
	}

	event := DisputeEscalated{
		DisputeID:   disputeID,
		Reason:      reason,
		Actor:       by,
		EscalatedAt: time.Now().UTC(),
	}
	if err := s.append(ctx, d, disputeID, EventDisputeEscalated, event); err != nil {
		return nil, err
	}
	return d, nil
}

// Close archives a resolved or escalated dispute. Staff only.
func (s *Service) Close(ctx context.Context, disputeID string, by actor.Actor) (*Dispute, error) {
	defer s.lock(disputeID)()

	d, err := s.Load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() {
		return nil, fmt.Errorf("%w: %s cannot close", ErrPermissionDenied, by.ID)
	}
	if !d.CanTransitionTo(StatusClosed) {
		return nil, d.transitionError(StatusClosed)
	}

	event := DisputeClosed{
		DisputeID: disputeID,
		Actor:     by,
		ClosedAt:  time.Now().UTC(),
	}
	if err := s.append(ctx, d, disputeID, EventDisputeClosed, event); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) append(ctx context.Context, d *Dispute, disputeID, eventType string, data any) error {
	event, err := s.eventStore.Append(ctx, disputeID, AggregateType, eventType, data)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	if err := d.ApplyEvent(*event); err != nil {
		return fmt.Errorf("failed to apply %s: %w", eventType, err)
	}
	if err := aggregate.MaybeSnapshot(ctx, s.eventStore, d, AggregateType); err != nil {
		return fmt.Errorf("failed to snapshot dispute: %w", err)
	}
	return nil
}
