// Package projection builds the query-side read models from the event
// stream. The projector is idempotent: it rebuilds the whole aggregate for
// every event it sees, so replays and duplicate deliveries converge on the
// same read model.
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/example/settlement-core/internal/domain/aggregate"
	"github.com/example/settlement-core/internal/domain/dispute"
	"github.com/example/settlement-core/internal/domain/order"
	"github.com/example/settlement-core/internal/domain/refund"
	"github.com/example/settlement-core/internal/domain/subscription"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/readmodel"
)

type Projector struct {
	eventStore store.EventStoreInterface
	readStore  store.ReadStoreInterface
	logger     *log.Logger
}

func NewProjector(eventStore store.EventStoreInterface, readStore store.ReadStoreInterface) *Projector {
	return &Projector{
		eventStore: eventStore,
		readStore:  readStore,
		logger:     log.New(log.Writer(), "[Projector] ", log.LstdFlags),
	}
}

// HandleMessage adapts a Kafka message to HandleEvent.
func (p *Projector) HandleMessage(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return p.HandleEvent(ctx, event)
}

// HandleEvent refreshes the read model owned by the event's aggregate.
func (p *Projector) HandleEvent(ctx context.Context, event store.Event) error {
	var err error
	switch event.AggregateType {
	case order.AggregateType:
		err = p.ProjectOrder(ctx, event.AggregateID)
	case dispute.AggregateType:
		err = p.ProjectDispute(ctx, event.AggregateID)
	case refund.AggregateType:
		err = p.ProjectRefund(ctx, event.AggregateID)
	case subscription.AggregateType:
		err = p.ProjectSubscription(ctx, event.AggregateID)
	default:
		p.logger.Printf("skipping event %s for unknown aggregate type %s", event.EventType, event.AggregateType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to project %s event %s: %w", event.AggregateType, event.EventType, err)
	}
	return nil
}

// Rebuild replays the full event store into the read store, for cold starts
// and schema changes.
func (p *Projector) Rebuild(ctx context.Context) error {
	seen := make(map[string]struct{})
	for _, event := range p.eventStore.GetAllEvents() {
		if _, done := seen[event.AggregateID]; done {
			continue
		}
		seen[event.AggregateID] = struct{}{}
		if err := p.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	p.logger.Printf("rebuilt read models for %d aggregates", len(seen))
	return nil
}

// ProjectOrder refreshes one order read model. The command layer calls this
// directly for read-your-writes consistency.
func (p *Projector) ProjectOrder(ctx context.Context, orderID string) error {
	o, found, err := aggregate.Load(ctx, p.eventStore, orderID, func() *order.Order { return &order.Order{} })
	if err != nil || !found {
		return err
	}
	return p.readStore.Set(store.CollectionOrders, orderID, MapOrder(o))
}

func (p *Projector) ProjectDispute(ctx context.Context, disputeID string) error {
	d, found, err := aggregate.Load(ctx, p.eventStore, disputeID, func() *dispute.Dispute { return &dispute.Dispute{} })
	if err != nil || !found {
		return err
	}
	return p.readStore.Set(store.CollectionDisputes, disputeID, MapDispute(d))
}

func (p *Projector) ProjectRefund(ctx context.Context, refundID string) error {
	r, found, err := aggregate.Load(ctx, p.eventStore, refundID, func() *refund.Refund { return &refund.Refund{} })
	if err != nil || !found {
		return err
	}
	return p.readStore.Set(store.CollectionRefunds, refundID, MapRefund(r))
}

func (p *Projector) ProjectSubscription(ctx context.Context, subID string) error {
	sub, found, err := aggregate.Load(ctx, p.eventStore, subID, func() *subscription.Subscription { return &subscription.Subscription{} })
	if err != nil || !found {
		return err
	}
	return p.readStore.Set(store.CollectionSubscriptions, subID, MapSubscription(sub))
}

// MapOrder converts the order aggregate to its read model.
func MapOrder(o *order.Order) readmodel.OrderReadModel {
	items := make([]readmodel.OrderItemReadModel, 0, len(o.Items))
	for _, it := range o.Items {
		links := make([]readmodel.DownloadLinkReadModel, 0, len(it.DownloadLinks))
		for _, l := range it.DownloadLinks {
			links = append(links, readmodel.DownloadLinkReadModel{URL: l.URL, ExpiresAt: l.ExpiresAt})
		}
		items = append(items, readmodel.OrderItemReadModel{
			ID:              it.ID,
			ProductID:       it.ProductID,
			CreatorID:       it.CreatorID,
			ProductName:     it.ProductName,
			ProductSKU:      it.ProductSKU,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			TotalPrice:      it.TotalPrice,
			AccessGranted:   it.AccessGranted,
			IsFulfilled:     it.IsFulfilled,
			DownloadCount:   it.DownloadCount,
			DownloadLimit:   it.DownloadLimit,
			AccessExpiresAt: it.AccessExpiresAt,
			LicenseKey:      it.LicenseKey,
			DownloadLinks:   links,
			FulfilledAt:     it.FulfilledAt,
		})
	}

	history := make([]readmodel.StatusChangeReadModel, 0, len(o.History))
	for _, h := range o.History {
		history = append(history, readmodel.StatusChangeReadModel{
			Previous:  string(h.Previous),
			New:       string(h.New),
			ActorID:   h.Actor.ID,
			ActorRole: string(h.Actor.Role),
			Reason:    h.Reason,
			At:        h.At,
		})
	}

	m := readmodel.OrderReadModel{
		ID:                   o.ID,
		Number:               o.Number,
		BuyerID:              o.BuyerID,
		GuestEmail:           o.GuestEmail,
		BillingName:          o.Billing.Name,
		BillingEmail:         o.Billing.Email,
		BillingPhone:         o.Billing.Phone,
		Channel:              o.Channel,
		Currency:             o.Currency,
		Subtotal:             o.Subtotal,
		VATRateBps:           o.VATRateBps,
		VATAmount:            o.VATAmount,
		FeeRateBps:           o.FeeRateBps,
		FeeAmount:            o.FeeAmount,
		ProcessorFeeAmount:   o.ProcessorFee,
		Total:                o.Total,
		IsVATRegistered:      o.IsVATRegistered,
		VATNumber:            o.VATNumber,
		Status:               string(o.Status),
		PaymentStatus:        string(o.PaymentStatus),
		Gateway:              o.Gateway,
		GatewayTransactionID: o.TransactionID,
		Items:                items,
		History:              history,
		CreatedAt:            o.CreatedAt,
		PaidAt:               o.PaidAt,
		CompletedAt:          o.CompletedAt,
		CancelledAt:          o.CancelledAt,
	}
	if o.Invoice != nil {
		m.Invoice = &readmodel.InvoiceReadModel{
			Number:          o.Invoice.Number,
			TaxInvoice:      o.Invoice.TaxInvoice,
			VATVendorNumber: o.Invoice.VATVendorNumber,
			Subtotal:        o.Invoice.Subtotal,
			VATAmount:       o.Invoice.VATAmount,
			Total:           o.Invoice.Total,
			Voided:          o.Invoice.Voided,
			GeneratedAt:     o.Invoice.GeneratedAt,
		}
	}
	return m
}

// MapDispute converts the dispute aggregate to its read model.
func MapDispute(d *dispute.Dispute) readmodel.DisputeReadModel {
	m := readmodel.DisputeReadModel{
		ID:          d.ID,
		Reference:   d.Reference,
		OrderID:     d.OrderID,
		OrderNumber: d.OrderNumber,
		Type:        string(d.Type),
		Status:      string(d.Status),
		Reason:      d.Reason,
		OpenedBy:    d.OpenedBy.ID,
		AssigneeID:  d.AssigneeID,
		Outcome:     string(d.Outcome),
		Resolution:  d.Resolution,
		OpenedAt:    d.CreatedAt,
		ResolvedAt:  d.ResolvedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.RefundAmount > 0 {
		amount := d.RefundAmount
		m.RefundAmount = &amount
	}
	return m
}

// MapRefund converts the refund aggregate to its read model.
func MapRefund(r *refund.Refund) readmodel.RefundReadModel {
	return readmodel.RefundReadModel{
		ID:                 r.ID,
		OrderID:            r.OrderID,
		Amount:             r.Amount,
		Currency:           r.Currency,
		Reason:             r.Reason,
		Status:             string(r.Status),
		RequestedBy:        r.RequestedBy.ID,
		ProcessedBy:        r.ProcessedBy,
		ProcessorReference: r.ProcessorReference,
		RequestedAt:        r.CreatedAt,
		ProcessedAt:        r.ProcessedAt,
	}
}

// MapSubscription converts the subscription aggregate to its read model.
func MapSubscription(s *subscription.Subscription) readmodel.SubscriptionReadModel {
	return readmodel.SubscriptionReadModel{
		ID:                    s.ID,
		UserID:                s.BuyerID,
		BillingName:           s.BillingName,
		BillingEmail:          s.BillingEmail,
		ProductID:             s.ProductID,
		CreatorID:             s.CreatorID,
		ProductName:           s.PlanName,
		Status:                string(s.Status),
		Channel:               s.Channel,
		Interval:              string(s.Interval),
		Amount:                s.Amount,
		Currency:              s.Currency,
		VATRegistered:         s.VATRegistered,
		VATNumber:             s.VATNumber,
		StartDate:             s.CreatedAt,
		CurrentPeriodStart:    s.CurrentPeriodStart,
		CurrentPeriodEnd:      s.CurrentPeriodEnd,
		NextBillingDate:       s.NextBillingDate,
		EndDate:               s.EndDate,
		CancelledAt:           s.CancelledAt,
		FailedPaymentAttempts: s.FailedAttempts,
		UpdatedAt:             s.UpdatedAt,
	}
}
