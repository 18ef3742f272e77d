// Package api exposes the settlement core over HTTP: commands on the write
// side, projected read models on the query side, and the gateway webhook.
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/api/middleware"
	"github.com/example/settlement-core/internal/command"
	"github.com/example/settlement-core/internal/domain/dispute"
	"github.com/example/settlement-core/internal/domain/order"
	"github.com/example/settlement-core/internal/domain/refund"
	"github.com/example/settlement-core/internal/domain/subscription"
	"github.com/example/settlement-core/internal/gateway"
	"github.com/example/settlement-core/internal/query"
	"github.com/example/settlement-core/internal/settlement"
)

// Server handles the HTTP API.
type Server struct {
	commands      *command.Handler
	queries       *query.Handler
	orders        *order.Service
	webhookSecret []byte
	logger        *log.Logger
}

func NewServer(commands *command.Handler, queries *query.Handler, orders *order.Service, webhookSecret []byte) *Server {
	return &Server{
		commands:      commands,
		queries:       queries,
		orders:        orders,
		webhookSecret: webhookSecret,
		logger:        log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, dispute.ErrDisputeNotFound),
		errors.Is(err, refund.ErrRefundNotFound),
		errors.Is(err, subscription.ErrSubscriptionNotFound),
		errors.Is(err, order.ErrItemNotFound),
		errors.Is(err, query.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrPermissionDenied),
		errors.Is(err, dispute.ErrPermissionDenied),
		errors.Is(err, refund.ErrPermissionDenied),
		errors.Is(err, subscription.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, dispute.ErrInvalidTransition),
		errors.Is(err, refund.ErrInvalidTransition),
		errors.Is(err, subscription.ErrInvalidTransition),
		errors.Is(err, command.ErrOrderNotRefundable),
		errors.Is(err, command.ErrRefundAlreadyPending),
		errors.Is(err, command.ErrOrderNotDisputable),
		errors.Is(err, order.ErrOrderNotCompleted),
		errors.Is(err, order.ErrDownloadLimitReached),
		errors.Is(err, order.ErrAccessExpired),
		errors.Is(err, order.ErrAccessNotGranted):
		status = http.StatusConflict
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrInvalidBuyer),
		errors.Is(err, order.ErrInvalidLine),
		errors.Is(err, order.ErrMissingBilling),
		errors.Is(err, refund.ErrInvalidAmount),
		errors.Is(err, refund.ErrExceedsOrderTotal),
		errors.Is(err, dispute.ErrInvalidType),
		errors.Is(err, dispute.ErrInvalidOutcome),
		errors.Is(err, subscription.ErrInvalidInterval),
		errors.Is(err, settlement.ErrUnknownChannel):
		status = http.StatusBadRequest
	case errors.Is(err, command.ErrPaymentDeclined):
		status = http.StatusPaymentRequired
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func requestActor(r *http.Request) actor.Actor {
	a, _ := middleware.ActorFrom(r.Context())
	return a
}

// --- orders ---

type checkoutRequest struct {
	GuestEmail    string            `json:"guest_email,omitempty"`
	Billing       order.BillingInfo `json:"billing"`
	Channel       string            `json:"channel"`
	Currency      string            `json:"currency,omitempty"`
	Lines         []order.CartLine  `json:"lines"`
	VATRegistered bool              `json:"vat_registered"`
	VATNumber     string            `json:"vat_number,omitempty"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	in := order.CheckoutInput{
		GuestEmail:    req.GuestEmail,
		Billing:       req.Billing,
		Channel:       settlement.Channel(req.Channel),
		Currency:      req.Currency,
		Lines:         req.Lines,
		VATRegistered: req.VATRegistered,
		VATNumber:     req.VATNumber,
	}
	if a, ok := middleware.ActorFrom(r.Context()); ok {
		in.BuyerID = a.ID
		in.GuestEmail = ""
	}

	o, err := s.commands.PlaceOrder(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.commands.PayOrder(r.Context(), r.PathValue("id"), requestActor(r))
	if err != nil && !errors.Is(err, command.ErrPaymentDeclined) {
		s.writeError(w, err)
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusPaymentRequired, o)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	m, err := s.queries.GetOrder(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	a := requestActor(r)
	if !a.IsStaff() && a.ID != m.BuyerID {
		s.writeError(w, order.ErrPermissionDenied)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	a := requestActor(r)
	orders, err := s.queries.ListOrdersByBuyer(a.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	o, err := s.commands.UpdateOrderStatus(r.Context(), r.PathValue("id"), order.Status(req.Status), req.Reason, requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDownloadItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.orders.RecordDownload(r.Context(), r.PathValue("id"), r.PathValue("itemID"), requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.orders.IssueInvoice(r.Context(), r.PathValue("id"), requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inv)
}

// --- refunds ---

type refundRequest struct {
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason"`
}

func (s *Server) handleRequestRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ref, err := s.commands.RequestRefund(r.Context(), command.RequestRefundInput{
		OrderID:     r.PathValue("id"),
		Amount:      req.Amount,
		Reason:      req.Reason,
		RequestedBy: requestActor(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ref)
}

func (s *Server) handleGetRefund(w http.ResponseWriter, r *http.Request) {
	m, err := s.queries.GetRefund(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleApproveRefund(w http.ResponseWriter, r *http.Request) {
	ref, err := s.commands.ApproveRefund(r.Context(), r.PathValue("id"), requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ref)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRejectRefund(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ref, err := s.commands.RejectRefund(r.Context(), r.PathValue("id"), req.Reason, requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ref)
}

// --- disputes ---

type openDisputeRequest struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := s.commands.OpenDispute(r.Context(), command.OpenDisputeInput{
		OrderID:  r.PathValue("id"),
		Type:     dispute.Type(req.Type),
		Reason:   req.Reason,
		OpenedBy: requestActor(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	m, err := s.queries.GetDispute(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

func (s *Server) handleAssignDispute(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := s.commands.AssignDispute(r.Context(), r.PathValue("id"), req.AssigneeID, requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

type resolveRequest struct {
	Outcome      string `json:"outcome"`
	Resolution   string `json:"resolution"`
	RefundAmount int64  `json:"refund_amount,omitempty"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := s.commands.ResolveDispute(r.Context(), command.ResolveDisputeInput{
		DisputeID:    r.PathValue("id"),
		Outcome:      dispute.Outcome(req.Outcome),
		Resolution:   req.Resolution,
		RefundAmount: req.RefundAmount,
		ResolvedBy:   requestActor(r),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

type escalateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEscalateDispute(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := s.commands.EscalateDispute(r.Context(), r.PathValue("id"), req.Reason, requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCloseDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.commands.CloseDispute(r.Context(), r.PathValue("id"), requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

// --- subscriptions ---

type startSubscriptionRequest struct {
	BillingName   string     `json:"billing_name"`
	BillingEmail  string     `json:"billing_email"`
	ProductID     string     `json:"product_id"`
	CreatorID     string     `json:"creator_id"`
	PlanName      string     `json:"plan_name"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency,omitempty"`
	Channel       string     `json:"channel"`
	Interval      string     `json:"interval"`
	VATRegistered bool       `json:"vat_registered"`
	VATNumber     string     `json:"vat_number,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
}

func (s *Server) handleStartSubscription(w http.ResponseWriter, r *http.Request) {
	var req startSubscriptionRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a := requestActor(r)
	sub, o, err := s.commands.StartSubscription(r.Context(), command.StartSubscriptionInput{
		BuyerID:       a.ID,
		BillingName:   req.BillingName,
		BillingEmail:  req.BillingEmail,
		ProductID:     req.ProductID,
		CreatorID:     req.CreatorID,
		PlanName:      req.PlanName,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Channel:       req.Channel,
		Interval:      subscription.Interval(req.Interval),
		VATRegistered: req.VATRegistered,
		VATNumber:     req.VATNumber,
		EndDate:       req.EndDate,
		StartedBy:     a,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"subscription": sub,
		"order":        o,
	})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	m, err := s.queries.GetSubscription(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	a := requestActor(r)
	if !a.IsStaff() && a.ID != m.UserID {
		s.writeError(w, subscription.ErrPermissionDenied)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePauseSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.commands.PauseSubscription(r.Context(), r.PathValue("id"), requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleResumeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.commands.ResumeSubscription(r.Context(), r.PathValue("id"), requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sub, err := s.commands.CancelSubscription(r.Context(), r.PathValue("id"), req.Reason, requestActor(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

// --- webhook ---

// handleWebhook receives gateway notifications. The body is authenticated
// with an HMAC-SHA256 signature in X-Webhook-Signature.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !s.verifyWebhookSignature(body, r.Header.Get("X-Webhook-Signature")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var evt gateway.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		http.Error(w, "invalid webhook payload", http.StatusBadRequest)
		return
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}

	if err := s.commands.HandleWebhook(r.Context(), evt); err != nil {
		s.logger.Printf("webhook %s (%s) failed: %v", evt.EventType, evt.TransactionID, err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) verifyWebhookSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
