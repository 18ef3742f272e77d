package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/infrastructure/store"
)

const AggregateType = "Order"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusDisputed   Status = "disputed"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusCaptured PaymentStatus = "captured"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrEmptyCart            = errors.New("cart has no items")
	ErrInvalidBuyer         = errors.New("order needs exactly one of buyer or guest email")
	ErrInvalidLine          = errors.New("invalid cart line")
	ErrMissingBilling       = errors.New("billing name and email are required")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrPermissionDenied     = errors.New("actor may not perform this operation")
	ErrItemNotFound         = errors.New("order item not found")
	ErrOrderNotCompleted    = errors.New("order is not completed")
	ErrAccessNotGranted     = errors.New("download access not granted")
	ErrDownloadLimitReached = errors.New("download limit reached")
	ErrAccessExpired        = errors.New("download access expired")
)

// validTransitions is the full lifecycle table. Anything absent fails with
// ErrInvalidTransition and leaves the order untouched.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusDisputed, StatusRefunded},
	StatusDisputed:   {StatusCompleted, StatusRefunded},
	StatusCancelled:  {},
	StatusFailed:     {},
	StatusRefunded:   {},
}

// DeliveryKind is the minimal delivery capability the core needs from the
// external product catalog.
type DeliveryKind string

const (
	DeliveryDownload   DeliveryKind = "download"
	DeliveryLicense    DeliveryKind = "license"
	DeliveryMembership DeliveryKind = "membership"
)

// ProductRef is the opaque product reference supplied by the catalog at
// checkout: identity, price, and delivery metadata, nothing more.
type ProductRef struct {
	ID            string       `json:"id"`
	CreatorID     string       `json:"creator_id"`
	Name          string       `json:"name"`
	SKU           string       `json:"sku,omitempty"`
	PriceCents    int64        `json:"price_cents"`
	Delivery      DeliveryKind `json:"delivery"`
	DownloadLimit int          `json:"download_limit,omitempty"` // 0 = unlimited
	AccessDays    int          `json:"access_days,omitempty"`    // 0 = non-expiring
	Licensed      bool         `json:"licensed,omitempty"`
}

// CartLine is one entry of the incoming cart.
type CartLine struct {
	Product  ProductRef `json:"product"`
	Quantity int        `json:"quantity"`
}

// BillingInfo is the buyer's billing snapshot at time of purchase.
type BillingInfo struct {
	Name    string            `json:"name"`
	Email   string            `json:"email"`
	Phone   string            `json:"phone,omitempty"`
	Address map[string]string `json:"address,omitempty"`
}

// DownloadLink is one issued signed link.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Item is a purchased line. Product name, SKU, and price are snapshotted at
// purchase time and never follow later catalog changes.
type Item struct {
	ID              string         `json:"id"`
	ProductID       string         `json:"product_id"`
	CreatorID       string         `json:"creator_id"`
	ProductName     string         `json:"product_name"`
	ProductSKU      string         `json:"product_sku,omitempty"`
	Quantity        int            `json:"quantity"`
	UnitPrice       int64          `json:"unit_price"`
	TotalPrice      int64          `json:"total_price"`
	Delivery        DeliveryKind   `json:"delivery"`
	Licensed        bool           `json:"licensed,omitempty"`
	AccessGranted   bool           `json:"access_granted"`
	IsFulfilled     bool           `json:"is_fulfilled"`
	DownloadCount   int            `json:"download_count"`
	DownloadLimit   int            `json:"download_limit,omitempty"`
	AccessDays      int            `json:"access_days,omitempty"`
	AccessExpiresAt *time.Time     `json:"access_expires_at,omitempty"`
	LicenseKey      string         `json:"license_key,omitempty"`
	DownloadLinks   []DownloadLink `json:"download_links,omitempty"`
	FulfilledAt     *time.Time     `json:"fulfilled_at,omitempty"`
}

// CanDownload checks the item's access policy. Absent limit means unlimited,
// absent expiry means non-expiring.
func (it *Item) CanDownload(now time.Time) error {
	if !it.AccessGranted {
		return ErrAccessNotGranted
	}
	if it.DownloadLimit > 0 && it.DownloadCount >= it.DownloadLimit {
		return ErrDownloadLimitReached
	}
	if it.AccessExpiresAt != nil && !now.Before(*it.AccessExpiresAt) {
		return ErrAccessExpired
	}
	return nil
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Previous Status      `json:"previous_status"`
	New      Status      `json:"new_status"`
	Actor    actor.Actor `json:"actor"`
	Reason   string      `json:"reason,omitempty"`
	At       time.Time   `json:"at"`
}

// Invoice is the lazily issued, immutable invoice snapshot.
type Invoice struct {
	Number          string    `json:"invoice_number"`
	TaxInvoice      bool      `json:"tax_invoice"`
	VATVendorNumber string    `json:"vat_vendor_number,omitempty"`
	Subtotal        int64     `json:"subtotal"`
	VATAmount       int64     `json:"vat_amount"`
	Total           int64     `json:"total"`
	Voided          bool      `json:"voided"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Order is the aggregate root. Amounts are integer cents in Currency; the
// platform fee reduces the seller's net and is not part of Total.
type Order struct {
	ID              string        `json:"id"`
	Number          string        `json:"order_number"`
	BuyerID         string        `json:"buyer_id,omitempty"`
	GuestEmail      string        `json:"guest_email,omitempty"`
	Billing         BillingInfo   `json:"billing"`
	Channel         string        `json:"channel"`
	Currency        string        `json:"currency"`
	Subtotal        int64         `json:"subtotal"`
	VATRateBps      int64         `json:"vat_rate_bps"`
	VATAmount       int64         `json:"vat_amount"`
	FeeRateBps      int64         `json:"fee_rate_bps"`
	FeeAmount       int64         `json:"fee_amount"`
	ProcessorFee    int64         `json:"processor_fee_amount"`
	Total           int64         `json:"total"`
	IsVATRegistered bool          `json:"is_vat_registered"`
	VATNumber       string        `json:"vat_number,omitempty"`
	Status          Status        `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	Gateway         string        `json:"gateway,omitempty"`
	TransactionID   string        `json:"gateway_transaction_id,omitempty"`
	Items           []Item        `json:"items"`
	History         []StatusChange `json:"history"`
	Invoice         *Invoice      `json:"invoice,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	Version         int           `json:"version"`
}

// Aggregate interface implementation.
func (o *Order) GetID() string    { return o.ID }
func (o *Order) GetVersion() int  { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }

// CanTransitionTo checks the lifecycle table.
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

func (o *Order) transitionError(target Status) error {
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.Status, target)
}

// CustomerEmail returns the buyer's email, falling back to the guest email.
func (o *Order) CustomerEmail() string {
	if o.Billing.Email != "" {
		return o.Billing.Email
	}
	return o.GuestEmail
}

// ItemIndex returns the position of an item, or -1.
func (o *Order) ItemIndex(itemID string) int {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// HasCreator reports whether the actor created any product in the order.
func (o *Order) HasCreator(actorID string) bool {
	for i := range o.Items {
		if o.Items[i].CreatorID == actorID {
			return true
		}
	}
	return false
}

// recordTransition appends the history entry first, then updates the status,
// so the audit trail can never trail the object state.
func (o *Order) recordTransition(target Status, by actor.Actor, reason string, at time.Time) {
	o.History = append(o.History, StatusChange{
		Previous: o.Status,
		New:      target,
		Actor:    by,
		Reason:   reason,
		At:       at,
	})
	o.Status = target
	o.UpdatedAt = at
}

// ApplyEvent applies a single event to the order state.
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventOrderPlaced:
		var data OrderPlaced
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.ID = data.OrderID
		o.Number = data.Number
		o.BuyerID = data.BuyerID
		o.GuestEmail = data.GuestEmail
		o.Billing = data.Billing
		o.Channel = data.Channel
		o.Currency = data.Currency
		o.Items = data.Items
		o.Subtotal = data.Subtotal
		o.VATRateBps = data.VATRateBps
		o.VATAmount = data.VATAmount
		o.FeeRateBps = data.FeeRateBps
		o.FeeAmount = data.FeeAmount
		o.Total = data.Total
		o.IsVATRegistered = data.IsVATRegistered
		o.VATNumber = data.VATNumber
		o.Status = StatusPending
		o.PaymentStatus = PaymentStatusPending
		o.CreatedAt = data.PlacedAt
		o.UpdatedAt = data.PlacedAt

	case EventPaymentCaptured:
		var data PaymentCaptured
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.recordTransition(StatusProcessing, data.Actor, "payment captured", data.CapturedAt)
		o.PaymentStatus = PaymentStatusCaptured
		o.Gateway = data.Gateway
		o.TransactionID = data.TransactionID
		o.ProcessorFee = data.ProcessorFee
		paidAt := data.CapturedAt
		o.PaidAt = &paidAt

	case EventOrderCompleted:
		var data OrderCompleted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.recordTransition(StatusCompleted, data.Actor, data.Reason, data.CompletedAt)
		completedAt := data.CompletedAt
		o.CompletedAt = &completedAt

	case EventOrderCancelled:
		var data OrderCancelled
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.recordTransition(StatusCancelled, data.Actor, data.Reason, data.CancelledAt)
		cancelledAt := data.CancelledAt
		o.CancelledAt = &cancelledAt

	case EventOrderFailed:
		var data OrderFailed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.recordTransition(StatusFailed, data.Actor, data.Reason, data.FailedAt)
		o.PaymentStatus = PaymentStatusFailed

	case EventOrderDisputed:
		var data OrderDisputed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.recordTransition(StatusDisputed, data.Actor, data.Reason, data.DisputedAt)

	case EventDisputeCleared:
		var data DisputeCleared
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.recordTransition(StatusCompleted, data.Actor, data.Reason, data.ClearedAt)

	case EventOrderRefunded:
		var data OrderRefunded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.recordTransition(StatusRefunded, data.Actor, data.Reason, data.RefundedAt)
		o.PaymentStatus = PaymentStatusRefunded
		// The money went back, so an issued invoice no longer stands. The
		// number is not recycled.
		if o.Invoice != nil {
			o.Invoice.Voided = true
		}

	case EventItemFulfilled:
		var data ItemFulfilled
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if i := o.ItemIndex(data.ItemID); i >= 0 {
			it := &o.Items[i]
			it.DownloadLinks = data.DownloadLinks
			it.LicenseKey = data.LicenseKey
			it.AccessExpiresAt = data.AccessExpiresAt
			it.AccessGranted = true
			it.IsFulfilled = true
			fulfilledAt := data.FulfilledAt
			it.FulfilledAt = &fulfilledAt
		}
		o.UpdatedAt = data.FulfilledAt

	case EventDownloadRecorded:
		var data DownloadRecorded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if i := o.ItemIndex(data.ItemID); i >= 0 {
			o.Items[i].DownloadCount++
		}
		o.UpdatedAt = data.DownloadedAt

	case EventInvoiceIssued:
		var data InvoiceIssued
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Invoice = &Invoice{
			Number:          data.Number,
			TaxInvoice:      data.TaxInvoice,
			VATVendorNumber: data.VATVendorNumber,
			Subtotal:        data.Subtotal,
			VATAmount:       data.VATAmount,
			Total:           data.Total,
			GeneratedAt:     data.GeneratedAt,
		}
		o.UpdatedAt = data.GeneratedAt
	}

	o.Version = event.Version
	return nil
}
