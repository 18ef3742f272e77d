package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/domain/aggregate"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/money"
	"github.com/example/settlement-core/internal/numbering"
	"github.com/example/settlement-core/internal/settlement"
)

// FulfillmentGrant is what the fulfillment engine hands back for one item.
type FulfillmentGrant struct {
	DownloadLinks []DownloadLink
	LicenseKey    string
}

// Fulfiller grants digital access for a purchased item. Implementations must
// be safe to call once per item; the service never calls it for an item that
// is already fulfilled.
type Fulfiller interface {
	Fulfill(orderID, orderNumber string, item Item) (FulfillmentGrant, error)
}

// CheckoutInput is the cart handed over by the storefront. Exactly one of
// BuyerID and GuestEmail must be set.
type CheckoutInput struct {
	BuyerID       string
	GuestEmail    string
	Billing       BillingInfo
	Channel       settlement.Channel
	Currency      string
	Lines         []CartLine
	VATRegistered bool
	VATNumber     string
}

// Service owns all order state changes. Every mutation goes through the
// event store under a per-order lock, so concurrent transitions on the same
// order are serialized in-process and fenced by the version constraint
// across processes.
type Service struct {
	eventStore      store.EventStoreInterface
	calc            *settlement.Calculator
	numberer        numbering.InvoiceNumberer
	fulfiller       Fulfiller
	vatVendorNumber string

	locks sync.Map // order id -> *sync.Mutex
}

func NewService(
	eventStore store.EventStoreInterface,
	calc *settlement.Calculator,
	numberer numbering.InvoiceNumberer,
	fulfiller Fulfiller,
	vatVendorNumber string,
) *Service {
	return &Service{
		eventStore:      eventStore,
		calc:            calc,
		numberer:        numberer,
		fulfiller:       fulfiller,
		vatVendorNumber: vatVendorNumber,
	}
}

func (s *Service) lock(orderID string) func() {
	mu, _ := s.locks.LoadOrStore(orderID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Load rebuilds an order from its event stream.
func (s *Service) Load(ctx context.Context, orderID string) (*Order, error) {
	o, found, err := aggregate.Load(ctx, s.eventStore, orderID, func() *Order { return &Order{} })
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	if !found {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// Checkout converts a cart into a pending order. The settlement breakdown is
// computed exactly once here and frozen into the OrderPlaced event; later
// rate changes never touch existing orders.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*Order, error) {
	if (in.BuyerID == "") == (in.GuestEmail == "") {
		return nil, ErrInvalidBuyer
	}
	if len(in.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if in.Billing.Name == "" || in.Billing.Email == "" {
		return nil, ErrMissingBilling
	}

	currency := in.Currency
	if currency == "" {
		currency = money.DefaultCurrency
	}

	now := time.Now().UTC()
	items := make([]Item, 0, len(in.Lines))
	var subtotal int64
	for _, line := range in.Lines {
		if line.Quantity <= 0 || line.Product.PriceCents < 0 || line.Product.ID == "" {
			return nil, fmt.Errorf("%w: product %q quantity %d", ErrInvalidLine, line.Product.ID, line.Quantity)
		}
		total := line.Product.PriceCents * int64(line.Quantity)
		items = append(items, Item{
			ID:            uuid.New().String(),
			ProductID:     line.Product.ID,
			CreatorID:     line.Product.CreatorID,
			ProductName:   line.Product.Name,
			ProductSKU:    line.Product.SKU,
			Quantity:      line.Quantity,
			UnitPrice:     line.Product.PriceCents,
			TotalPrice:    total,
			Delivery:      line.Product.Delivery,
			Licensed:      line.Product.Licensed,
			DownloadLimit: line.Product.DownloadLimit,
			AccessDays:    line.Product.AccessDays,
		})
		subtotal += total
	}

	breakdown, err := s.calc.Compute(money.New(subtotal, currency), in.Channel, in.VATRegistered, now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute settlement: %w", err)
	}

	orderID := uuid.New().String()
	placed := OrderPlaced{
		OrderID:         orderID,
		Number:          numbering.OrderNumber(),
		BuyerID:         in.BuyerID,
		GuestEmail:      in.GuestEmail,
		Billing:         in.Billing,
		Channel:         string(in.Channel),
		Currency:        currency,
		Items:           items,
		Subtotal:        breakdown.Subtotal.Amount,
		VATRateBps:      breakdown.VATRateBps,
		VATAmount:       breakdown.VATAmount.Amount,
		FeeRateBps:      breakdown.FeeRateBps,
		FeeAmount:       breakdown.FeeAmount.Amount,
		Total:           breakdown.Total.Amount,
		IsVATRegistered: in.VATRegistered,
		VATNumber:       in.VATNumber,
		PlacedAt:        now,
	}

	o := &Order{}
	if err := s.append(ctx, o, orderID, EventOrderPlaced, placed); err != nil {
		return nil, err
	}
	return o, nil
}

// CapturePayment records a successful gateway capture and moves the order
// from pending to processing. processorFee is what the gateway charged for
// the capture, as reported in its result.
func (s *Service) CapturePayment(ctx context.Context, orderID, gatewayName, transactionID string, processorFee int64, by actor.Actor) (*Order, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.CanTransitionTo(StatusProcessing) {
		return nil, o.transitionError(StatusProcessing)
	}

	event := PaymentCaptured{
		OrderID:       orderID,
		Gateway:       gatewayName,
		TransactionID: transactionID,
		ProcessorFee:  processorFee,
		Actor:         by,
		CapturedAt:    time.Now().UTC(),
	}
	if err := s.append(ctx, o, orderID, EventPaymentCaptured, event); err != nil {
		return nil, err
	}
	return o, nil
}

// Complete moves a processing order to completed and fulfills every digital
// item that has not been fulfilled yet. Fulfillment is idempotent per item:
// a crash between item grants resumes where it left off on the next call.
func (s *Service) Complete(ctx context.Context, orderID string, by actor.Actor, reason string) (*Order, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() && !o.HasCreator(by.ID) {
		return nil, fmt.Errorf("%w: %s cannot complete order", ErrPermissionDenied, by.ID)
	}

	if o.Status != StatusCompleted {
		if !o.CanTransitionTo(StatusCompleted) {
			return nil, o.transitionError(StatusCompleted)
		}
		event := OrderCompleted{
			OrderID:     orderID,
			Actor:       by,
			Reason:      reason,
			CompletedAt: time.Now().UTC(),
		}
		if err := s.append(ctx, o, orderID, EventOrderCompleted, event); err != nil {
			return nil, err
		}
	}

	if err := s.fulfillPending(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// fulfillPending grants access for every item still waiting on fulfillment.
func (s *Service) fulfillPending(ctx context.Context, o *Order) error {
	for i := range o.Items {
		if o.Items[i].IsFulfilled {
			continue
		}
		item := o.Items[i]

		grant, err := s.fulfiller.Fulfill(o.ID, o.Number, item)
		if err != nil {
			return fmt.Errorf("failed to fulfill item %s: %w", item.ID, err)
		}

		fulfilledAt := time.Now().UTC()
		var expiresAt *time.Time
		if item.AccessDays > 0 {
			e := fulfilledAt.AddDate(0, 0, item.AccessDays)
			expiresAt = &e
		}

		event := ItemFulfilled{
			OrderID:         o.ID,
			ItemID:          item.ID,
			DownloadLinks:   grant.DownloadLinks,
			LicenseKey:      grant.LicenseKey,
			AccessExpiresAt: expiresAt,
			FulfilledAt:     fulfilledAt,
		}
		if err := s.append(ctx, o, o.ID, EventItemFulfilled, event); err != nil {
			return err
		}
	}
	return nil
}

// Cancel moves a pending order to cancelled.
func (s *Service) Cancel(ctx context.Context, orderID string, by actor.Actor, reason string) (*Order, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() && by.ID != o.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot cancel order", ErrPermissionDenied, by.ID)
	}
	if !o.CanTransitionTo(StatusCancelled) {
		return nil, o.transitionError(StatusCancelled)
	}

	event := OrderCancelled{
		OrderID:     orderID,
		Actor:       by,
		Reason:      reason,
		CancelledAt: time.Now().UTC(),
	}
	if err := s.append(ctx, o, orderID, EventOrderCancelled, event); err != nil {
		return nil, err
	}
	return o, nil
}

// Fail marks a pending or processing order as failed, typically on a
// declined or errored payment.
func (s *Service) Fail(ctx context.Context, orderID string, by actor.Actor, reason string) (*Order, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() {
		return nil, fmt.Errorf("%w: %s cannot fail order", ErrPermissionDenied, by.ID)
	}
	if !o.CanTransitionTo(StatusFailed) {
		return nil, o.transitionError(StatusFailed)
	}

	event := OrderFailed{
		OrderID:  orderID,
		Actor:    by,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}
	if err := s.append(ctx, o, orderID, EventOrderFailed, event); err != nil {
		return nil, err
	}
	return o, nil
}

// MarkDisputed moves a completed order to disputed when a dispute opens
// against it.
func (s *Service) MarkDisputed(ctx context.Context, orderID, disputeID string, by actor.Actor, reason string) (*Order, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() && by.ID != o.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot dispute order", ErrPermissionDenied, by.ID)
	}
	if !o.CanTransitionTo(StatusDisputed) {
		return nil, o.transitionError(StatusDisputed)
	}

	event := OrderDisputed{
		OrderID:    orderID,
		DisputeID:  disputeID,
		Actor:      by,
		Reason:     reason,
		DisputedAt: time.Now().UTC(),
	}
	if err := s.append(ctx, o, orderID, EventOrderDisputed, event); err != nil {
		return nil, err
	}
	return o, nil
}

// ClearDispute returns a disputed order to completed after the dispute
// resolves in the seller's favor.
func (s *Service) ClearDispute(ctx context.Context, orderID, disputeID string, by actor.Actor, reason string) (*Order, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() {
		return nil, fmt.Errorf("%w: %s cannot clear dispute", ErrPermissionDenied, by.ID)
	}
	if o.Status != StatusDisputed {
		return nil, o.transitionError(StatusCompleted)
	}

	event := DisputeCleared{
		OrderID:   orderID,
		DisputeID: disputeID,
		Actor:     by,
		Reason:    reason,
		ClearedAt: time.Now().UTC(),
	}
	if err := s.append(ctx, o, orderID, EventDisputeCleared, event); err != nil {
		return nil, err
	}
	return o, nil
}

// MarkRefunded records that money went back to the buyer and moves the order
// to its terminal refunded state, from either completed or disputed.
func (s *Service) MarkRefunded(ctx context.Context, orderID, refundRequestID, transactionID string, by actor.Actor, reason string) (*Order, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() {
		return nil, fmt.Errorf("%w: %s cannot refund order", ErrPermissionDenied, by.ID)
	}
	if !o.CanTransitionTo(StatusRefunded) {
		return nil, o.transitionError(StatusRefunded)
	}

	event := OrderRefunded{
		OrderID:         orderID,
		RefundRequestID: refundRequestID,
		TransactionID:   transactionID,
		Actor:           by,
		Reason:          reason,
		RefundedAt:      time.Now().UTC(),
	}
	if err := s.append(ctx, o, orderID, EventOrderRefunded, event); err != nil {
		return nil, err
	}
	return o, nil
}

// RecordDownload counts one download against an item's access policy and
// returns the item so the caller can serve its links.
func (s *Service) RecordDownload(ctx context.Context, orderID, itemID string, by actor.Actor) (*Item, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && by.ID != o.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot download from order", ErrPermissionDenied, by.ID)
	}
	if o.Status != StatusCompleted {
		return nil, ErrOrderNotCompleted
	}

	i := o.ItemIndex(itemID)
	if i < 0 {
		return nil, ErrItemNotFound
	}
	now := time.Now().UTC()
	if err := o.Items[i].CanDownload(now); err != nil {
		return nil, err
	}

	event := DownloadRecorded{
		OrderID:      orderID,
		ItemID:       itemID,
		DownloadedAt: now,
	}
	if err := s.append(ctx, o, orderID, EventDownloadRecorded, event); err != nil {
		return nil, err
	}

	item := o.Items[i]
	return &item, nil
}

// IssueInvoice returns the order's invoice, issuing it on first call. The
// number and amounts are frozen at issue time; repeated calls return the
// same invoice. Tax invoices (with the vendor's VAT number) are issued only
// for VAT-registered sales.
func (s *Service) IssueInvoice(ctx context.Context, orderID string, by actor.Actor) (*Invoice, error) {
	defer s.lock(orderID)()

	o, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !by.IsStaff() && !by.IsSystem() && by.ID != o.BuyerID {
		return nil, fmt.Errorf("%w: %s cannot access invoice", ErrPermissionDenied, by.ID)
	}
	if o.Invoice != nil {
		inv := *o.Invoice
		return &inv, nil
	}
	if o.Status != StatusCompleted && o.Status != StatusRefunded && o.Status != StatusDisputed {
		return nil, ErrOrderNotCompleted
	}

	number, err := s.numberer.NextInvoiceNumber(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to issue invoice number: %w", err)
	}

	vendorNumber := ""
	if o.IsVATRegistered {
		vendorNumber = s.vatVendorNumber
	}
	event := InvoiceIssued{
		OrderID:         orderID,
		Number:          number,
		TaxInvoice:      o.IsVATRegistered,
		VATVendorNumber: vendorNumber,
		Subtotal:        o.Subtotal,
		VATAmount:       o.VATAmount,
		Total:           o.Total,
		GeneratedAt:     time.Now().UTC(),
	}
	if err := s.append(ctx, o, orderID, EventInvoiceIssued, event); err != nil {
		return nil, err
	}

	inv := *o.Invoice
	return &inv, nil
}

// append durably stores an event, applies it to the in-memory order, and
// snapshots when the version crosses the threshold. The event is persisted
// before the aggregate mutates, so state never outruns the audit trail.
func (s *Service) append(ctx context.Context, o *Order, orderID, eventType string, data any) error {
	event, err := s.eventStore.Append(ctx, orderID, AggregateType, eventType, data)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	if err := o.ApplyEvent(*event); err != nil {
		return fmt.Errorf("failed to apply %s: %w", eventType, err)
	}
	if err := aggregate.MaybeSnapshot(ctx, s.eventStore, o, AggregateType); err != nil {
		return fmt.Errorf("failed to snapshot order: %w", err)
	}
	return nil
}
