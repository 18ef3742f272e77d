package api

import (
	"net/http"

	"github.com/example/settlement-core/internal/api/middleware"
	"github.com/example/settlement-core/internal/auth"
)

// Router builds the HTTP handler with authentication applied.
func (s *Server) Router(tokens *auth.TokenService) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /webhooks/payment", s.handleWebhook)

	// Orders. Checkout stays open for guest purchases.
	mux.HandleFunc("POST /api/orders", s.handleCheckout)
	mux.HandleFunc("POST /api/orders/{id}/pay", middleware.RequireAuth(s.handlePayOrder))
	mux.HandleFunc("GET /api/orders/{id}", middleware.RequireAuth(s.handleGetOrder))
	mux.HandleFunc("GET /api/orders", middleware.RequireAuth(s.handleListMyOrders))
	mux.HandleFunc("POST /api/orders/{id}/status", middleware.RequireStaff(s.handleUpdateOrderStatus))
	mux.HandleFunc("POST /api/orders/{id}/items/{itemID}/download", middleware.RequireAuth(s.handleDownloadItem))
	mux.HandleFunc("GET /api/orders/{id}/invoice", middleware.RequireAuth(s.handleInvoice))

	// Refunds.
	mux.HandleFunc("POST /api/orders/{id}/refund-requests", middleware.RequireAuth(s.handleRequestRefund))
	mux.HandleFunc("GET /api/refunds/{id}", middleware.RequireStaff(s.handleGetRefund))
	mux.HandleFunc("POST /api/refunds/{id}/approve", middleware.RequireStaff(s.handleApproveRefund))
	mux.HandleFunc("POST /api/refunds/{id}/reject", middleware.RequireStaff(s.handleRejectRefund))

	// Disputes.
	mux.HandleFunc("POST /api/orders/{id}/disputes", middleware.RequireAuth(s.handleOpenDispute))
	mux.HandleFunc("GET /api/disputes/{id}", middleware.RequireStaff(s.handleGetDispute))
	mux.HandleFunc("POST /api/disputes/{id}/assign", middleware.RequireStaff(s.handleAssignDispute))
	mux.HandleFunc("POST /api/disputes/{id}/resolve", middleware.RequireStaff(s.handleResolveDispute))
	mux.HandleFunc("POST /api/disputes/{id}/escalate", middleware.RequireStaff(s.handleEscalateDispute))
	mux.HandleFunc("POST /api/disputes/{id}/close", middleware.RequireStaff(s.handleCloseDispute))

	// Subscriptions.
	mux.HandleFunc("POST /api/subscriptions", middleware.RequireAuth(s.handleStartSubscription))
	mux.HandleFunc("GET /api/subscriptions/{id}", middleware.RequireAuth(s.handleGetSubscription))
	mux.HandleFunc("POST /api/subscriptions/{id}/pause", middleware.RequireAuth(s.handlePauseSubscription))
	mux.HandleFunc("POST /api/subscriptions/{id}/resume", middleware.RequireAuth(s.handleResumeSubscription))
	mux.HandleFunc("POST /api/subscriptions/{id}/cancel", middleware.RequireAuth(s.handleCancelSubscription))

	return middleware.Authenticate(tokens, mux)
}
