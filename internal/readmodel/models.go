// Package readmodel holds the denormalized projections served by the query
// side. Monetary amounts are integer cents; the order carries the currency.
package readmodel

import "time"

// StatusChangeReadModel is one entry of an order's status history.
type StatusChangeReadModel struct {
	Previous  string    `json:"previous_status"`
	New       string    `json:"new_status"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// DownloadLinkReadModel is one issued download link.
type DownloadLinkReadModel struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OrderItemReadModel is a purchased line with its fulfillment state.
type OrderItemReadModel struct {
	ID              string                  `json:"id"`
	ProductID       string                  `json:"product_id"`
	CreatorID       string                  `json:"creator_id"`
	ProductName     string                  `json:"product_name"`
	ProductSKU      string                  `json:"product_sku"`
	Quantity        int                     `json:"quantity"`
	UnitPrice       int64                   `json:"unit_price"`
	TotalPrice      int64                   `json:"total_price"`
	AccessGranted   bool                    `json:"access_granted"`
	IsFulfilled     bool                    `json:"is_fulfilled"`
	DownloadCount   int                     `json:"download_count"`
	DownloadLimit   int                     `json:"download_limit,omitempty"`
	AccessExpiresAt *time.Time              `json:"access_expires_at,omitempty"`
	LicenseKey      string                  `json:"license_key,omitempty"`
	DownloadLinks   []DownloadLinkReadModel `json:"download_links,omitempty"`
	FulfilledAt     *time.Time              `json:"fulfilled_at,omitempty"`
}

// InvoiceReadModel is the lazily issued invoice snapshot for an order.
type InvoiceReadModel struct {
	Number          string    `json:"invoice_number"`
	TaxInvoice      bool      `json:"tax_invoice"`
	VATVendorNumber string    `json:"vat_vendor_number,omitempty"`
	Subtotal        int64     `json:"subtotal"`
	VATAmount       int64     `json:"vat_amount"`
	Total           int64     `json:"total"`
	Voided          bool      `json:"voided"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// OrderReadModel is the full order projection.
type OrderReadModel struct {
	ID                   string                  `json:"id"`
	Number               string                  `json:"order_number"`
	BuyerID              string                  `json:"buyer_id,omitempty"`
	GuestEmail           string                  `json:"guest_email,omitempty"`
	BillingName          string                  `json:"billing_name"`
	BillingEmail         string                  `json:"billing_email"`
	BillingPhone         string                  `json:"billing_phone,omitempty"`
	Channel              string                  `json:"channel"`
	Currency             string                  `json:"currency"`
	Subtotal             int64                   `json:"subtotal"`
	VATRateBps           int64                   `json:"vat_rate_bps"`
	VATAmount            int64                   `json:"vat_amount"`
	FeeRateBps           int64                   `json:"fee_rate_bps"`
	FeeAmount            int64                   `json:"fee_amount"`
	ProcessorFeeAmount   int64                   `json:"processor_fee_amount"`
	Total                int64                   `json:"total"`
	IsVATRegistered      bool                    `json:"is_vat_registered"`
	VATNumber            string                  `json:"vat_number,omitempty"`
	Status               string                  `json:"status"`
	PaymentStatus        string                  `json:"payment_status"`
	Gateway              string                  `json:"gateway,omitempty"`
	GatewayTransactionID string                  `json:"gateway_transaction_id,omitempty"`
	Items                []OrderItemReadModel    `json:"items"`
	History              []StatusChangeReadModel `json:"history"`
	Invoice              *InvoiceReadModel       `json:"invoice,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
	PaidAt               *time.Time              `json:"paid_at,omitempty"`
	CompletedAt          *time.Time              `json:"completed_at,omitempty"`
	CancelledAt          *time.Time              `json:"cancelled_at,omitempty"`
}

// DisputeReadModel is the dispute projection.
type DisputeReadModel struct {
	ID              string     `json:"id"`
	Reference       string     `json:"reference"`
	OrderID         string     `json:"order_id"`
	OrderNumber     string     `json:"order_number"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason"`
	OpenedBy        string     `json:"opened_by"`
	CustomerMessage string     `json:"customer_message,omitempty"`
	AssigneeID      string     `json:"assignee_id,omitempty"`
	Outcome         string     `json:"outcome,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	RefundAmount    *int64     `json:"refund_amount,omitempty"`
	OpenedAt        time.Time  `json:"opened_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RefundReadModel is the refund request projection.
type RefundReadModel struct {
	ID                 string     `json:"id"`
	OrderID            string     `json:"order_id"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	Reason             string     `json:"reason"`
	Status             string     `json:"status"`
	RequestedBy        string     `json:"requested_by"`
	ProcessedBy        string     `json:"processed_by,omitempty"`
	ProcessorReference string     `json:"processor_reference,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
}

// SubscriptionReadModel is the subscription projection. The billing scheduler
// selects due subscriptions from this collection.
type SubscriptionReadModel struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	BillingName           string     `json:"billing_name"`
	BillingEmail          string     `json:"billing_email"`
	ProductID             string     `json:"product_id"`
	CreatorID             string     `json:"creator_id"`
	ProductName           string     `json:"product_name"`
	Status                string     `json:"status"`
	Channel               string     `json:"channel"`
	Interval              string     `json:"interval"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency"`
	VATRegistered         bool       `json:"vat_registered"`
	VATNumber             string     `json:"vat_number,omitempty"`
	StartDate             time.Time  `json:"start_date"`
	CurrentPeriodStart    time.Time  `json:"current_period_start"`
	CurrentPeriodEnd      time.Time  `json:"current_period_end"`
	NextBillingDate       time.Time  `json:"next_billing_date"`
	EndDate               *time.Time `json:"end_date,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	FailedPaymentAttempts int        `json:"failed_payment_attempts"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TransactionReadModel records a processed gateway transaction id. Webhook
// handling consults this collection to drop duplicate deliveries.
type TransactionReadModel struct {
	TransactionID string    `json:"transaction_id"`
	OrderID       string    `json:"order_id,omitempty"`
	EventType     string    `json:"event_type"`
	ProcessedAt   time.Time `json:"processed_at"`
}
