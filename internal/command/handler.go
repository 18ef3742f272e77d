// Package command orchestrates writes: it drives the domain services,
// charges and refunds through the payment gateway, and keeps the read models
// the API depends on synchronously fresh.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/dispute"
	"github.com/example/settlement-core/internal/domain/order"
	"github.com/example/settlement-core/internal/domain/refund"
	"github.com/example/settlement-core/internal/domain/subscription"
	"github.com/example/settlement-core/internal/gateway"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/projection"
	"github.com/example/settlement-core/internal/query"
	"github.com/example/settlement-core/internal/readmodel"
	"github.com/example/settlement-core/internal/settlement"
)

func settlementChannel(c string) settlement.Channel {
	if c == "" {
		return settlement.ChannelDirect
	}
	return settlement.Channel(c)
}

var (
	ErrPaymentDeclined      = errors.New("payment was declined")
	ErrOrderNotRefundable   = errors.New("order is not in a refundable state")
	ErrRefundAlreadyPending = errors.New("order already has an open refund request")
	ErrOrderNotDisputable   = errors.New("order is not in a disputable state")
	ErrGatewayRefundFailed  = errors.New("gateway refund failed")
)

// Handler executes commands against the settlement core.
type Handler struct {
	orders        *order.Service
	disputes      *dispute.Service
	refunds       *refund.Service
	subscriptions *subscription.Service
	gateway       gateway.PaymentGateway
	gatewayName   string
	queries       *query.Handler
	readStore     store.ReadStoreInterface
	projector     *projection.Projector
	logger        *log.Logger
}

func NewHandler(
	orders *order.Service,
	disputes *dispute.Service,
	refunds *refund.Service,
	subscriptions *subscription.Service,
	pg gateway.PaymentGateway,
	gatewayName string,
	queries *query.Handler,
	readStore store.ReadStoreInterface,
	projector *projection.Projector,
) *Handler {
	return &Handler{
		orders:        orders,
		disputes:      disputes,
		refunds:       refunds,
		subscriptions: subscriptions,
		gateway:       pg,
		gatewayName:   gatewayName,
		queries:       queries,
		readStore:     readStore,
		projector:     projector,
		logger:        log.New(log.Writer(), "[Command] ", log.LstdFlags),
	}
}

// PlaceOrder converts a cart into a pending order.
func (h *Handler) PlaceOrder(ctx context.Context, in order.CheckoutInput) (*order.Order, error) {
	o, err := h.orders.Checkout(ctx, in)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectOrder, o.ID)
	h.logger.Printf("placed order %s (%s) total %d %s", o.Number, o.ID, o.Total, o.Currency)
	return o, nil
}

// PayOrder charges a pending order through the gateway. The order id doubles
// as the idempotency key, so a retried call cannot double-charge. A declined
// charge fails the order and returns ErrPaymentDeclined.
func (h *Handler) PayOrder(ctx context.Context, orderID string, by actor.Actor) (*order.Order, error) {
	o, err := h.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPending {
		return nil, fmt.Errorf("%w: cannot transition from %s to %s", order.ErrInvalidTransition, o.Status, order.StatusProcessing)
	}

	res, err := h.gateway.Capture(ctx, gateway.CaptureRequest{
		OrderID:        orderID,
		IdempotencyKey: orderID,
		Amount:         o.Total,
		Currency:       o.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway capture failed: %w", err)
	}

	if !res.Success {
		o, err = h.orders.Fail(ctx, orderID, actor.System, res.FailureReason)
		if err != nil {
			return nil, err
		}
		h.project(ctx, h.projector.ProjectOrder, orderID)
		return o, fmt.Errorf("%w: %s", ErrPaymentDeclined, res.FailureReason)
	}

	if _, err := h.orders.CapturePayment(ctx, orderID, h.gatewayName, res.TransactionID, res.ProcessorFee, by); err != nil {
		return nil, err
	}
	o, err = h.orders.Complete(ctx, orderID, actor.System, "payment captured")
	if err != nil {
		return nil, err
	}

	h.recordTransaction(res.TransactionID, orderID, gateway.WebhookPaymentCaptured)
	h.project(ctx, h.projector.ProjectOrder, orderID)
	return o, nil
}

// HandleWebhook processes one gateway notification. Deliveries are at-least-
// once: duplicates are dropped by transaction id, and the domain transition
// guards catch anything that slips between check and record.
func (h *Handler) HandleWebhook(ctx context.Context, evt gateway.WebhookEvent) error {
	processed, err := h.queries.IsTransactionProcessed(evt.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to check transaction %s: %w", evt.TransactionID, err)
	}
	if processed {
		h.logger.Printf("dropping duplicate webhook %s for transaction %s", evt.EventType, evt.TransactionID)
		return nil
	}

	var orderID string
	switch evt.EventType {
	case gateway.WebhookPaymentCaptured:
		var p gateway.WebhookPaymentPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("bad %s payload: %w", evt.EventType, err)
		}
		orderID = p.OrderID
		if _, err := h.orders.CapturePayment(ctx, p.OrderID, h.gatewayName, evt.TransactionID, p.ProcessorFee, actor.System); err != nil {
			return err
		}
		if _, err := h.orders.Complete(ctx, p.OrderID, actor.System, "payment captured"); err != nil {
			return err
		}
		h.project(ctx, h.projector.ProjectOrder, p.OrderID)

	case gateway.WebhookPaymentFailed:
		var p gateway.WebhookPaymentPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("bad %s payload: %w", evt.EventType, err)
		}
		orderID = p.OrderID
		if _, err := h.orders.Fail(ctx, p.OrderID, actor.System, p.FailureReason); err != nil {
			return err
		}
		h.project(ctx, h.projector.ProjectOrder, p.OrderID)

	case gateway.WebhookRefundSucceeded:
		var p gateway.WebhookRefundPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("bad %s payload: %w", evt.EventType, err)
		}
		orderID = p.OrderID
		if err := h.settleRefund(ctx, p.RefundRequestID, p.OrderID, evt.TransactionID); err != nil {
			return err
		}

	case gateway.WebhookRefundFailed:
		var p gateway.WebhookRefundPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("bad %s payload: %w", evt.EventType, err)
		}
		// The refund request stays approved; operators retry from there.
		orderID = p.OrderID
		h.logger.Printf("gateway refund failed for order %s request %s", p.OrderID, p.RefundRequestID)

	default:
		h.logger.Printf("ignoring unknown webhook event type %q", evt.EventType)
		return nil
	}

	h.recordTransaction(evt.TransactionID, orderID, evt.EventType)
	return nil
}

// settleRefund marks the refund processed and the order refunded. Both steps
// tolerate having already happened, so webhook and synchronous confirmation
// paths can race safely.
func (h *Handler) settleRefund(ctx context.Context, refundID, orderID, transactionID string) error {
	r, err := h.refunds.MarkProcessed(ctx, refundID, transactionID, actor.System)
	if err != nil && !errors.Is(err, refund.ErrInvalidTransition) {
		return err
	}
	if err == nil && r.DisputeID != "" {
		if _, err := h.disputes.Close(ctx, r.DisputeID, actor.System); err != nil && !errors.Is(err, dispute.ErrInvalidTransition) {
			return err
		}
		h.project(ctx, h.projector.ProjectDispute, r.DisputeID)
	}

	if _, err := h.orders.MarkRefunded(ctx, orderID, refundID, transactionID, actor.System, "refund processed"); err != nil && !errors.Is(err, order.ErrInvalidTransition) {
		return err
	}

	h.project(ctx, h.projector.ProjectRefund, refundID)
	h.project(ctx, h.projector.ProjectOrder, orderID)
	return nil
}

// RequestRefund opens a refund request against a completed order. One open
// request per order at a time: the read model gives a cheap first answer, and
// the refund service re-checks the event stream before opening, so a stale
// projection cannot let a second request through.
func (h *Handler) RequestRefund(ctx context.Context, in RequestRefundInput) (*refund.Refund, error) {
	o, err := h.orders.Load(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !in.RequestedBy.IsStaff() && in.RequestedBy.ID != o.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot request refund", order.ErrPermissionDenied, in.RequestedBy.ID)
	}
	if o.Status != order.StatusCompleted {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotRefundable, o.Status)
	}
	if pending, err := h.queries.PendingRefundExists(in.OrderID); err != nil {
		return nil, err
	} else if pending {
		return nil, ErrRefundAlreadyPending
	}

	r, err := h.refunds.Request(ctx, refund.RequestInput{
		OrderID:     in.OrderID,
		OrderNumber: o.Number,
		Amount:      in.Amount,
		OrderTotal:  o.Total,
		Currency:    o.Currency,
		Reason:      in.Reason,
		RequestedBy: in.RequestedBy,
	})
	if err != nil {
		if errors.Is(err, refund.ErrAlreadyRequested) {
			return nil, ErrRefundAlreadyPending
		}
		return nil, err
	}
	h.project(ctx, h.projector.ProjectRefund, r.ID)
	return r, nil
}

// ApproveRefund approves a pending request and pushes it to the gateway. If
// the gateway confirms synchronously the refund settles right here;
// otherwise it stays approved until the refund.succeeded webhook lands.
func (h *Handler) ApproveRefund(ctx context.Context, refundID string, by actor.Actor) (*refund.Refund, error) {
	r, err := h.refunds.Approve(ctx, refundID, by)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectRefund, refundID)

	res, err := h.gateway.Refund(ctx, gateway.RefundRequest{
		OrderID:        r.OrderID,
		IdempotencyKey: refundID,
		Amount:         r.Amount,
		Currency:       r.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway refund failed: %w", err)
	}
	if !res.Success {
		return r, fmt.Errorf("%w: %s", ErrGatewayRefundFailed, res.FailureReason)
	}

	if err := h.settleRefund(ctx, refundID, r.OrderID, res.TransactionID); err != nil {
		return nil, err
	}
	h.recordTransaction(res.TransactionID, r.OrderID, gateway.WebhookRefundSucceeded)
	return h.refunds.Load(ctx, refundID)
}

// RejectRefund declines a pending refund request.
func (h *Handler) RejectRefund(ctx context.Context, refundID, reason string, by actor.Actor) (*refund.Refund, error) {
	r, err := h.refunds.Reject(ctx, refundID, reason, by)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectRefund, refundID)
	return r, nil
}

// OpenDispute opens a dispute against a completed order and freezes the
// order in disputed status while it runs.
func (h *Handler) OpenDispute(ctx context.Context, in OpenDisputeInput) (*dispute.Dispute, error) {
	o, err := h.orders.Load(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !in.OpenedBy.IsStaff() && !in.OpenedBy.IsSystem() && in.OpenedBy.ID != o.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot dispute order", order.ErrPermissionDenied, in.OpenedBy.ID)
	}
	if !o.CanTransitionTo(order.StatusDisputed) {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotDisputable, o.Status)
	}

	d, err := h.disputes.Open(ctx, in.OrderID, o.Number, in.Type, in.Reason, in.OpenedBy)
	if err != nil {
		return nil, err
	}
	if _, err := h.orders.MarkDisputed(ctx, in.OrderID, d.ID, in.OpenedBy, in.Reason); err != nil {
		return nil, err
	}

	h.project(ctx, h.projector.ProjectDispute, d.ID)
	h.project(ctx, h.projector.ProjectOrder, in.OrderID)
	return d, nil
}

// AssignDispute hands a dispute to a reviewer.
func (h *Handler) AssignDispute(ctx context.Context, disputeID, assigneeID string, by actor.Actor) (*dispute.Dispute, error) {
	d, err := h.disputes.Assign(ctx, disputeID, assigneeID, by)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectDispute, disputeID)
	return d, nil
}

// EscalateDispute flags a dispute for senior review.
func (h *Handler) EscalateDispute(ctx context.Context, disputeID, reason string, by actor.Actor) (*dispute.Dispute, error) {
	d, err := h.disputes.Escalate(ctx, disputeID, reason, by)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectDispute, disputeID)
	return d, nil
}

// CloseDispute archives a settled dispute.
func (h *Handler) CloseDispute(ctx context.Context, disputeID string, by actor.Actor) (*dispute.Dispute, error) {
	d, err := h.disputes.Close(ctx, disputeID, by)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectDispute, disputeID)
	return d, nil
}

// ResolveDispute records the outcome. A seller win releases the order back
// to completed. A buyer win opens a linked, pre-approved refund request; the
// order stays disputed until that refund settles.
func (h *Handler) ResolveDispute(ctx context.Context, in ResolveDisputeInput) (*dispute.Dispute, error) {
	d, err := h.disputes.Load(ctx, in.DisputeID)
	if err != nil {
		return nil, err
	}
	o, err := h.orders.Load(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}

	refundAmount := in.RefundAmount
	if in.Outcome == dispute.OutcomeBuyer && refundAmount == 0 {
		refundAmount = o.Total
	}

	d, err = h.disputes.Resolve(ctx, in.DisputeID, in.Outcome, in.Resolution, refundAmount, in.ResolvedBy)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectDispute, in.DisputeID)

	switch in.Outcome {
	case dispute.OutcomeSeller:
		if _, err := h.orders.ClearDispute(ctx, d.OrderID, d.ID, in.ResolvedBy, in.Resolution); err != nil {
			return nil, err
		}
		h.project(ctx, h.projector.ProjectOrder, d.OrderID)

	case dispute.OutcomeBuyer:
		r, err := h.refunds.Request(ctx, refund.RequestInput{
			OrderID:     d.OrderID,
			OrderNumber: o.Number,
			DisputeID:   d.ID,
			Amount:      refundAmount,
			OrderTotal:  o.Total,
			Currency:    o.Currency,
			Reason:      "dispute " + d.Reference + " resolved for buyer",
			RequestedBy: in.ResolvedBy,
		})
		if err != nil {
			return nil, err
		}
		// The resolution itself is the approval.
		if _, err := h.ApproveRefund(ctx, r.ID, in.ResolvedBy); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// UpdateOrderStatus is the staff escape hatch for direct transitions.
func (h *Handler) UpdateOrderStatus(ctx context.Context, orderID string, target order.Status, reason string, by actor.Actor) (*order.Order, error) {
	var (
		o   *order.Order
		err error
	)
	switch target {
	case order.StatusCompleted:
		o, err = h.orders.Complete(ctx, orderID, by, reason)
	case order.StatusCancelled:
		o, err = h.orders.Cancel(ctx, orderID, by, reason)
	case order.StatusFailed:
		o, err = h.orders.Fail(ctx, orderID, by, reason)
	default:
		return nil, fmt.Errorf("%w: %s is not directly settable", order.ErrInvalidTransition, target)
	}
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectOrder, orderID)
	return o, nil
}

// StartSubscription opens a subscription and charges its first cycle
// through a regular order.
func (h *Handler) StartSubscription(ctx context.Context, in StartSubscriptionInput) (*subscription.Subscription, *order.Order, error) {
	o, err := h.PlaceOrder(ctx, order.CheckoutInput{
		BuyerID: in.BuyerID,
		Billing: order.BillingInfo{Name: in.BillingName, Email: in.BillingEmail},
		Channel: settlementChannel(in.Channel),
		Lines: []order.CartLine{{
			Product: order.ProductRef{
				ID:         in.ProductID,
				CreatorID:  in.CreatorID,
				Name:       in.PlanName,
				PriceCents: in.Amount,
				Delivery:   order.DeliveryMembership,
			},
			Quantity: 1,
		}},
		Currency:      in.Currency,
		VATRegistered: in.VATRegistered,
		VATNumber:     in.VATNumber,
	})
	if err != nil {
		return nil, nil, err
	}
	if o, err = h.PayOrder(ctx, o.ID, in.StartedBy); err != nil {
		return nil, o, err
	}

	sub, err := h.subscriptions.Start(ctx, subscription.StartInput{
		BuyerID:       in.BuyerID,
		BillingName:   in.BillingName,
		BillingEmail:  in.BillingEmail,
		ProductID:     in.ProductID,
		CreatorID:     in.CreatorID,
		PlanName:      in.PlanName,
		Amount:        in.Amount,
		Currency:      o.Currency,
		Channel:       in.Channel,
		Interval:      in.Interval,
		VATRegistered: in.VATRegistered,
		VATNumber:     in.VATNumber,
		EndDate:       in.EndDate,
	}, in.StartedBy)
	if err != nil {
		return nil, o, err
	}
	h.project(ctx, h.projector.ProjectSubscription, sub.ID)
	return sub, o, nil
}

// RenewSubscription charges one billing cycle and advances the paid period.
// The idempotency key is subscription id + claimed period end + attempt, so
// a crash or a second biller retrying the same cycle reuses the original
// charge, while a retry after a decline (new attempt number) charges fresh.
// A declined charge counts a payment failure.
func (h *Handler) RenewSubscription(ctx context.Context, subID string) error {
	sub, err := h.subscriptions.Load(ctx, subID)
	if err != nil {
		return err
	}
	if sub.Status != subscription.StatusActive && sub.Status != subscription.StatusPastDue {
		return fmt.Errorf("%w: status %s", subscription.ErrNotRenewable, sub.Status)
	}
	// Checked before charging: a cycle past the end date must never reach
	// the gateway.
	if sub.EndDate != nil && !sub.CurrentPeriodEnd.Before(*sub.EndDate) {
		return fmt.Errorf("%w: reached end date", subscription.ErrNotRenewable)
	}
	claim := sub.CurrentPeriodEnd

	o, err := h.orders.Checkout(ctx, order.CheckoutInput{
		BuyerID: sub.BuyerID,
		Billing: order.BillingInfo{Name: sub.BillingName, Email: sub.BillingEmail},
		Channel: settlementChannel(sub.Channel),
		Lines: []order.CartLine{{
			Product: order.ProductRef{
				ID:         sub.ProductID,
				CreatorID:  sub.CreatorID,
				Name:       sub.PlanName,
				PriceCents: sub.Amount,
				Delivery:   order.DeliveryMembership,
			},
			Quantity: 1,
		}},
		Currency:      sub.Currency,
		VATRegistered: sub.VATRegistered,
		VATNumber:     sub.VATNumber,
	})
	if err != nil {
		return fmt.Errorf("failed to create renewal order: %w", err)
	}

	res, err := h.gateway.Capture(ctx, gateway.CaptureRequest{
		OrderID:        o.ID,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", subID, claim.UTC().Format(time.RFC3339), sub.FailedAttempts),
		Amount:         o.Total,
		Currency:       o.Currency,
	})
	if err != nil {
		return fmt.Errorf("gateway capture failed: %w", err)
	}

	if !res.Success {
		if _, err := h.orders.Fail(ctx, o.ID, actor.System, res.FailureReason); err != nil {
			return err
		}
		h.project(ctx, h.projector.ProjectOrder, o.ID)
		if _, err := h.subscriptions.RecordPaymentFailure(ctx, subID, res.FailureReason); err != nil {
			return err
		}
		h.project(ctx, h.projector.ProjectSubscription, subID)
		return fmt.Errorf("%w: %s", ErrPaymentDeclined, res.FailureReason)
	}

	if _, err := h.orders.CapturePayment(ctx, o.ID, h.gatewayName, res.TransactionID, res.ProcessorFee, actor.System); err != nil {
		return err
	}
	if _, err := h.orders.Complete(ctx, o.ID, actor.System, "subscription renewal"); err != nil {
		return err
	}
	h.recordTransaction(res.TransactionID, o.ID, gateway.WebhookPaymentCaptured)
	h.project(ctx, h.projector.ProjectOrder, o.ID)

	if _, err := h.subscriptions.Renew(ctx, subID, o.ID, claim); err != nil && !errors.Is(err, subscription.ErrAlreadyRenewed) {
		return err
	}
	h.project(ctx, h.projector.ProjectSubscription, subID)
	h.logger.Printf("renewed subscription %s with order %s", subID, o.Number)
	return nil
}

// ExpireSubscription ends a subscription that ran past its end date. The
// billing scan calls this instead of renewing.
func (h *Handler) ExpireSubscription(ctx context.Context, subID string) error {
	if _, err := h.subscriptions.Expire(ctx, subID, "end date reached"); err != nil {
		return err
	}
	h.project(ctx, h.projector.ProjectSubscription, subID)
	return nil
}

// PauseSubscription suspends billing.
func (h *Handler) PauseSubscription(ctx context.Context, subID string, by actor.Actor) (*subscription.Subscription, error) {
	sub, err := h.subscriptions.Pause(ctx, subID, by)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectSubscription, subID)
	return sub, nil
}

// ResumeSubscription reactivates a paused subscription.
func (h *Handler) ResumeSubscription(ctx context.Context, subID string, by actor.Actor) (*subscription.Subscription, error) {
	sub, err := h.subscriptions.Resume(ctx, subID, by)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectSubscription, subID)
	return sub, nil
}

// CancelSubscription stops a subscription for good.
func (h *Handler) CancelSubscription(ctx context.Context, subID, reason string, by actor.Actor) (*subscription.Subscription, error) {
	sub, err := h.subscriptions.Cancel(ctx, subID, reason, by)
	if err != nil {
		return nil, err
	}
	h.project(ctx, h.projector.ProjectSubscription, subID)
	return sub, nil
}

func (h *Handler) recordTransaction(transactionID, orderID, eventType string) {
	if transactionID == "" {
		return
	}
	err := h.readStore.Set(store.CollectionTransactions, transactionID, readmodel.TransactionReadModel{
		TransactionID: transactionID,
		OrderID:       orderID,
		EventType:     eventType,
		ProcessedAt:   time.Now().UTC(),
	})
	if err != nil {
		h.logger.Printf("failed to record transaction %s: %v", transactionID, err)
	}
}

// project refreshes a read model; a failure is logged, not returned, because
// the async projector will converge it anyway.
func (h *Handler) project(ctx context.Context, fn func(context.Context, string) error, id string) {
	if err := fn(ctx, id); err != nil {
		h.logger.Printf("synchronous projection failed for %s: %v", id, err)
	}
}
