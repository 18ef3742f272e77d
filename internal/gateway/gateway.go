// Package gateway defines the payment-gateway contract the settlement core
// depends on. Card capture, 3-D Secure, and bank transfer live behind this
// interface; the core only consumes capture/refund results and inbound
// webhooks.
package gateway

import (
	"context"
	"encoding/json"
	"time"
)

// Webhook event types delivered by the gateway. Deliveries may repeat; the
// webhook handler deduplicates by transaction id.
const (
	WebhookPaymentCaptured = "payment.captured"
	WebhookPaymentFailed   = "payment.failed"
	WebhookRefundSucceeded = "refund.succeeded"
	WebhookRefundFailed    = "refund.failed"
)

// CaptureRequest asks the gateway to charge the buyer. IdempotencyKey makes
// retried capture attempts safe: the gateway must return the original result
// for a repeated key instead of charging again.
type CaptureRequest struct {
	OrderID        string
	IdempotencyKey string
	Amount         int64 // smallest currency unit
	Currency       string
}

// CaptureResult is the gateway's answer to a capture attempt. A declined
// charge is Success=false with no error; errors mean the attempt itself
// could not be made.
type CaptureResult struct {
	Success       bool
	TransactionID string
	ProcessorFee  int64 // the gateway's own charge for the capture, in cents
	FailureReason string
}

// RefundRequest asks the gateway to return money for an earlier capture.
type RefundRequest struct {
	OrderID        string
	IdempotencyKey string
	Amount         int64
	Currency       string
}

// RefundResult is the gateway's answer to a refund attempt.
type RefundResult struct {
	Success       bool
	TransactionID string
	FailureReason string
}

// PaymentGateway is the external collaborator contract.
type PaymentGateway interface {
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// WebhookEvent is an inbound gateway notification.
type WebhookEvent struct {
	TransactionID string          `json:"transaction_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// WebhookPaymentPayload is the payload body for payment.* events.
type WebhookPaymentPayload struct {
	OrderID       string `json:"order_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ProcessorFee  int64  `json:"processor_fee,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// WebhookRefundPayload is the payload body for refund.* events.
type WebhookRefundPayload struct {
	OrderID         string `json:"order_id"`
	RefundRequestID string `json:"refund_request_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}
