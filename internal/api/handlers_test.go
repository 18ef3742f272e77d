package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/settlement-core/internal/actor"
	"github.com/example/settlement-core/internal/auth"
	"github.com/example/settlement-core/internal/command"
	"github.com/example/settlement-core/internal/domain/dispute"
	"github.com/example/settlement-core/internal/domain/order"
	"github.com/example/settlement-core/internal/domain/refund"
	"github.com/example/settlement-core/internal/domain/subscription"
	"github.com/example/settlement-core/internal/fulfillment"
	"github.com/example/settlement-core/internal/gateway"
	"github.com/example/settlement-core/internal/infrastructure/store"
	"github.com/example/settlement-core/internal/infrastructure/store/mocks"
	"github.com/example/settlement-core/internal/numbering"
	"github.com/example/settlement-core/internal/projection"
	"github.com/example/settlement-core/internal/query"
	"github.com/example/settlement-core/internal/readmodel"
	"github.com/example/settlement-core/internal/settlement"
)

const webhookSecret = "hook-secret"

type testAPI struct {
	router http.Handler
	tokens *auth.TokenService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	es := mocks.NewMockEventStore()
	rs := store.NewReadStore()
	sandbox := gateway.NewSandbox()

	engine := fulfillment.NewEngine("https://shop.example.com", 0, []byte("key"))
	orders := order.NewService(es, settlement.NewCalculator(settlement.DefaultConfig()), numbering.NewSequence(), engine, "4123456789")
	queries := query.NewHandler(rs)
	projector := projection.NewProjector(es, rs)
	commands := command.NewHandler(
		orders,
		dispute.NewService(es),
		refund.NewService(es),
		subscription.NewService(es),
		sandbox, "sandbox", queries, rs, projector,
	)
	tokens := auth.NewTokenService([]byte("api-secret"), "settlement-core", time.Hour)
	server := NewServer(commands, queries, orders, []byte(webhookSecret))

	return &testAPI{router: server.Router(tokens), tokens: tokens}
}

func (a *testAPI) request(t *testing.T, method, path string, body any, as *actor.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != nil {
		token, err := a.tokens.Generate(*as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func checkoutBody() map[string]any {
	return map[string]any{
		"billing": map[string]any{"name": "Thandi M", "email": "thandi@example.com"},
		"channel": "direct",
		"lines": []map[string]any{{
			"product": map[string]any{
				"id":          "prod-1",
				"creator_id":  "creator-1",
				"name":        "Go Patterns",
				"price_cents": 100000,
				"delivery":    "download",
			},
			"quantity": 1,
		}},
		"vat_registered": true,
	}
}

func TestCheckoutPayAndFetch(t *testing.T) {
	api := newTestAPI(t)
	buyer := actor.Actor{ID: "buyer-1", Role: actor.RoleBuyer}

	rec := api.request(t, http.MethodPost, "/api/orders", checkoutBody(), &buyer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var placed order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	assert.Equal(t, order.StatusPending, placed.Status)
	assert.Equal(t, int64(115000), placed.Total)

	rec = api.request(t, http.MethodPost, "/api/orders/"+placed.ID+"/pay", nil, &buyer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.request(t, http.MethodGet, "/api/orders/"+placed.ID, nil, &buyer)
	require.Equal(t, http.StatusOK, rec.Code)
	var m readmodel.OrderReadModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "completed", m.Status)
	require.Len(t, m.Items, 1)
	assert.True(t, m.Items[0].IsFulfilled)

	// Another buyer cannot read this order.
	other := actor.Actor{ID: "buyer-2", Role: actor.RoleBuyer}
	rec = api.request(t, http.MethodGet, "/api/orders/"+placed.ID, nil, &other)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuestCheckoutWithoutToken(t *testing.T) {
	api := newTestAPI(t)

	body := checkoutBody()
	body["guest_email"] = "guest@example.com"
	rec := api.request(t, http.MethodPost, "/api/orders", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var placed order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	assert.Equal(t, "guest@example.com", placed.GuestEmail)
	assert.Empty(t, placed.BuyerID)
}

func TestAuthRequiredAndStaffOnly(t *testing.T) {
	api := newTestAPI(t)
	buyer := actor.Actor{ID: "buyer-1", Role: actor.RoleBuyer}

	rec := api.request(t, http.MethodGet, "/api/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.request(t, http.MethodPost, "/api/orders/whatever/status", map[string]string{"status": "cancelled"}, &buyer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookSignature(t *testing.T) {
	api := newTestAPI(t)
	buyer := actor.Actor{ID: "buyer-1", Role: actor.RoleBuyer}

	rec := api.request(t, http.MethodPost, "/api/orders", checkoutBody(), &buyer)
	require.Equal(t, http.StatusCreated, rec.Code)
	var placed order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))

	payload, err := json.Marshal(gateway.WebhookPaymentPayload{OrderID: placed.ID, Amount: placed.Total, Currency: placed.Currency})
	require.NoError(t, err)
	body, err := json.Marshal(gateway.WebhookEvent{
		TransactionID: "ch_hook",
		EventType:     gateway.WebhookPaymentCaptured,
		Payload:       payload,
	})
	require.NoError(t, err)

	// Unsigned delivery is rejected.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Signed delivery lands and completes the order.
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec = api.request(t, http.MethodGet, "/api/orders/"+placed.ID, nil, &buyer)
	var m readmodel.OrderReadModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "completed", m.Status)
}

func TestRefundFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	buyer := actor.Actor{ID: "buyer-1", Role: actor.RoleBuyer}
	staff := actor.Actor{ID: "staff-1", Role: actor.RoleStaff}

	rec := api.request(t, http.MethodPost, "/api/orders", checkoutBody(), &buyer)
	require.Equal(t, http.StatusCreated, rec.Code)
	var placed order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))
	rec = api.request(t, http.MethodPost, "/api/orders/"+placed.ID+"/pay", nil, &buyer)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.request(t, http.MethodPost, "/api/orders/"+placed.ID+"/refund-requests", map[string]any{"reason": "duplicate"}, &buyer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ref refund.Refund
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ref))

	rec = api.request(t, http.MethodPost, "/api/refunds/"+ref.ID+"/approve", nil, &staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.request(t, http.MethodGet, "/api/orders/"+placed.ID, nil, &buyer)
	var m readmodel.OrderReadModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "refunded", m.Status)
}
