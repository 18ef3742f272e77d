// Package notification turns domain events into buyer-facing email. It runs
// as an async consumer off the event bus, so a mail outage never blocks a
// checkout or a webhook.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/example/settlement-core/internal/domain/aggregate"
	"github.com/example/settlement-core/internal/domain/dispute"
	"github.com/example/settlement-core/internal/domain/order"
	"github.com/example/settlement-core/internal/domain/subscription"
	"github.com/example/settlement-core/internal/email"
	"github.com/example/settlement-core/internal/infrastructure/store"
)

type Handler struct {
	eventStore store.EventStoreInterface
	sender     email.Sender
	logger     *log.Logger
}

func NewHandler(eventStore store.EventStoreInterface, sender email.Sender) *Handler {
	return &Handler{
		eventStore: eventStore,
		sender:     sender,
		logger:     log.New(log.Writer(), "[Notification] ", log.LstdFlags),
	}
}

// HandleMessage adapts a Kafka message to HandleEvent.
func (h *Handler) HandleMessage(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return h.HandleEvent(ctx, event)
}

// HandleEvent sends the email (if any) for one domain event.
func (h *Handler) HandleEvent(ctx context.Context, event store.Event) error {
	switch event.EventType {
	case order.EventOrderPlaced:
		return h.onOrderPlaced(event)
	case order.EventOrderCompleted:
		return h.onOrderCompleted(ctx, event)
	case order.EventOrderFailed:
		return h.onOrderFailed(ctx, event)
	case order.EventOrderRefunded:
		return h.onOrderRefunded(ctx, event)
	case dispute.EventDisputeOpened, dispute.EventDisputeResolved, dispute.EventDisputeClosed:
		return h.onDisputeChanged(ctx, event)
	case subscription.EventSubscriptionRenewed:
		return h.onSubscriptionRenewed(ctx, event)
	case subscription.EventPaymentFailureNoted:
		return h.onSubscriptionPaymentFailed(ctx, event)
	}
	return nil
}

func (h *Handler) loadOrder(ctx context.Context, orderID string) (*order.Order, error) {
	o, found, err := aggregate.Load(ctx, h.eventStore, orderID, func() *order.Order { return &order.Order{} })
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

func (h *Handler) send(to, subject, body string) error {
	if to == "" {
		h.logger.Printf("skipping notification %q: no recipient", subject)
		return nil
	}
	if err := h.sender.Send(to, subject, body); err != nil {
		return fmt.Errorf("failed to send %q: %w", subject, err)
	}
	return nil
}

func (h *Handler) onOrderPlaced(event store.Event) error {
	var data order.OrderPlaced
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return err
	}
	to := data.Billing.Email
	if to == "" {
		to = data.GuestEmail
	}
	subject, body := email.OrderConfirmation(data.Billing.Name, data.Number, data.Total, data.Currency)
	return h.send(to, subject, body)
}

func (h *Handler) onOrderCompleted(ctx context.Context, event store.Event) error {
	o, err := h.loadOrder(ctx, event.AggregateID)
	if err != nil {
		return err
	}

	var links, keys []string
	for _, it := range o.Items {
		for _, l := range it.DownloadLinks {
			links = append(links, l.URL)
		}
		if it.LicenseKey != "" {
			keys = append(keys, it.LicenseKey)
		}
	}
	if len(links) == 0 && len(keys) == 0 {
		return nil
	}
	subject, body := email.DeliveryReady(o.Billing.Name, o.Number, links, keys)
	return h.send(o.CustomerEmail(), subject, body)
}

func (h *Handler) onOrderFailed(ctx context.Context, event store.Event) error {
	var data order.OrderFailed
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return err
	}
	o, err := h.loadOrder(ctx, event.AggregateID)
	if err != nil {
		return err
	}
	subject, body := email.PaymentFailed(o.Billing.Name, o.Number, data.Reason)
	return h.send(o.CustomerEmail(), subject, body)
}

func (h *Handler) onOrderRefunded(ctx context.Context, event store.Event) error {
	o, err := h.loadOrder(ctx, event.AggregateID)
	if err != nil {
		return err
	}
	subject, body := email.RefundProcessed(o.Billing.Name, o.Number, o.Total, o.Currency)
	return h.send(o.CustomerEmail(), subject, body)
}

func (h *Handler) onDisputeChanged(ctx context.Context, event store.Event) error {
	d, found, err := aggregate.Load(ctx, h.eventStore, event.AggregateID, func() *dispute.Dispute { return &dispute.Dispute{} })
	if err != nil || !found {
		return err
	}
	o, err := h.loadOrder(ctx, d.OrderID)
	if err != nil {
		return err
	}
	subject, body := email.DisputeUpdate(o.Billing.Name, d.Reference, string(d.Status))
	return h.send(o.CustomerEmail(), subject, body)
}

func (h *Handler) onSubscriptionRenewed(ctx context.Context, event store.Event) error {
	sub, found, err := aggregate.Load(ctx, h.eventStore, event.AggregateID, func() *subscription.Subscription { return &subscription.Subscription{} })
	if err != nil || !found {
		return err
	}
	subject, body := email.SubscriptionRenewed(
		sub.BillingName, sub.PlanName, sub.Amount, sub.Currency,
		sub.CurrentPeriodEnd.Format(time.DateOnly),
	)
	return h.send(sub.BillingEmail, subject, body)
}

func (h *Handler) onSubscriptionPaymentFailed(ctx context.Context, event store.Event) error {
	var data subscription.PaymentFailureNoted
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return err
	}
	sub, found, err := aggregate.Load(ctx, h.eventStore, event.AggregateID, func() *subscription.Subscription { return &subscription.Subscription{} })
	if err != nil || !found {
		return err
	}
	subject, body := email.SubscriptionPaymentFailed(sub.BillingName, sub.PlanName, data.Attempt, subscription.MaxFailedAttempts)
	return h.send(sub.BillingEmail, subject, body)
}
