package order

import (
	"time"

	"github.com/example/settlement-core/internal/actor"
)

const (
	EventOrderPlaced      = "OrderPlaced"
	EventPaymentCaptured  = "PaymentCaptured"
	EventOrderCompleted   = "OrderCompleted"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderFailed      = "OrderFailed"
	EventOrderDisputed    = "OrderDisputed"
	EventDisputeCleared   = "DisputeCleared"
	EventOrderRefunded    = "OrderRefunded"
	EventItemFulfilled    = "ItemFulfilled"
	EventDownloadRecorded = "DownloadRecorded"
	EventInvoiceIssued    = "InvoiceIssued"
)

/// OrderPlaced carries the full frozen snapshot of a checkout: billing info,
// item lines, and the settlement breakdown. Amounts are never recomputed
// after this event.
type OrderPlaced struct {
	OrderID         string      `json:"order_id"`
	Number          string      `json:"order_number"`
	BuyerID         string      `json:"buyer_id,omitempty"`
	GuestEmail      string      `json:"guest_email,omitempty"`
	Billing         BillingInfo `json:"billing"`
	Channel         string      `json:"channel"`
	Currency        string      `json:"currency"`
	Items           []Item      `json:"items"`
	Subtotal        int64       `json:"subtotal"`
	VATRateBps      int64       `json:"vat_rate_bps"`
	VATAmount       int64       `json:"vat_amount"`
	FeeRateBps      int64       `json:"fee_rate_bps"`
	FeeAmount       int64       `json:"fee_amount"`
	Total           int64       `json:"total"`
	IsVATRegistered bool        `json:"is_vat_registered"`
	VATNumber       string      `json:"vat_number,omitempty"`
	PlacedAt        time.Time   `json:"placed_at"`
}

// PaymentCaptured moves pending -> processing. ProcessorFee is the gateway's
// own charge for the capture, kept for settlement reconciliation.
type PaymentCaptured struct {
	OrderID       string      `json:"order_id"`
	Gateway       string      `json:"gateway"`
	TransactionID string      `json:"transaction_id"`
	ProcessorFee  int64       `json:"processor_fee,omitempty"`
	Actor         actor.Actor `json:"actor"`
	CapturedAt    time.Time   `json:"captured_at"`
}

// OrderCompleted moves processing -> completed (or disputed -> completed when
// a dispute resolves in the seller's favor; see DisputeCleared).
type OrderCompleted struct {
	OrderID     string      `json:"order_id"`
	Actor       actor.Actor `json:"actor"`
	Reason      string      `json:"reason,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

type OrderCancelled struct {
	OrderID     string      `json:"order_id"`
	Actor       actor.Actor `json:"actor"`
	Reason      string      `json:"reason"`
	CancelledAt time.Time   `json:"cancelled_at"`
}

type OrderFailed struct {
	OrderID  string      `json:"order_id"`
	Actor    actor.Actor `json:"actor"`
	Reason   string      `json:"reason"`
	FailedAt time.Time   `json:"failed_at"`
}

type OrderDisputed struct {
	OrderID    string      `json:"order_id"`
	DisputeID  string      `json:"dispute_id"`
	Actor      actor.Actor `json:"actor"`
	Reason     string      `json:"reason"`
	DisputedAt time.Time   `json:"disputed_at"`
}

// DisputeCleared moves disputed -> completed.
type DisputeCleared struct {
	OrderID   string      `json:"order_id"`
	DisputeID string      `json:"dispute_id"`
	Actor     actor.Actor `json:"actor"`
	Reason    string      `json:"reason"`
	ClearedAt time.Time   `json:"cleared_at"`
}

type OrderRefunded struct {
	OrderID         string      `json:"order_id"`
	RefundRequestID string      `json:"refund_request_id,omitempty"`
	TransactionID   string      `json:"transaction_id,omitempty"`
	Actor           actor.Actor `json:"actor"`
	Reason          string      `json:"reason"`
	RefundedAt      time.Time   `json:"refunded_at"`
}

// ItemFulfilled records the one-time grant of digital access for an item.
type ItemFulfilled struct {
	OrderID         string         `json:"order_id"`
	ItemID          string         `json:"item_id"`
	DownloadLinks   []DownloadLink `json:"download_links,omitempty"`
	LicenseKey      string         `json:"license_key,omitempty"`
	AccessExpiresAt *time.Time     `json:"access_expires_at,omitempty"`
	FulfilledAt     time.Time      `json:"fulfilled_at"`
}

type DownloadRecorded struct {
	OrderID      string    `json:"order_id"`
	ItemID       string    `json:"item_id"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// InvoiceIssued freezes the invoice number and amount snapshot for an order.
type InvoiceIssued struct {
	OrderID         string    `json:"order_id"`
	Number          string    `json:"invoice_number"`
	TaxInvoice      bool      `json:"tax_invoice"`
	VATVendorNumber string    `json:"vat_vendor_number,omitempty"`
	Subtotal        int64     `json:"subtotal"`
	VATAmount       int64     `json:"vat_amount"`
	Total           int64     `json:"total"`
	GeneratedAt     time.Time `json:"generated_at"`
}
