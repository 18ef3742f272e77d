package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is a deterministic in-process gateway for development and tests.
// It honors idempotency keys: a repeated key returns the original result
// without a second charge.
type Sandbox struct {
	mu       sync.Mutex
	captures map[string]*CaptureResult // idempotency key -> result
	refunds  map[string]*RefundResult

	declineNext int // number of upcoming captures to decline
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		captures: make(map[string]*CaptureResult),
		refunds:  make(map[string]*RefundResult),
	}
}

// DeclineNext makes the next n fresh capture attempts fail, for exercising
// retry and past-due paths.
func (s *Sandbox) DeclineNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declineNext = n
}

func (s *Sandbox) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.captures[req.IdempotencyKey]; ok {
		return prev, nil
	}

	res := &CaptureResult{}
	if s.declineNext > 0 {
		s.declineNext--
		res.FailureReason = "card_declined"
	} else {
		res.Success = true
		res.TransactionID = newTransactionID("ch")
		// Same fee schedule as the live gateway: 2.9% plus 30 cents.
		res.ProcessorFee = req.Amount*290/10000 + 30
	}
	s.captures[req.IdempotencyKey] = res
	return res, nil
}

func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.refunds[req.IdempotencyKey]; ok {
		return prev, nil
	}

	res := &RefundResult{
		Success:       true,
		TransactionID: newTransactionID("re"),
	}
	s.refunds[req.IdempotencyKey] = res
	return res, nil
}

func newTransactionID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}
