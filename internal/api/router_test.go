package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/webhookgw/internal/bootstrap"
	"github.com/jafarshop/webhookgw/internal/config"
	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/events"
	"github.com/jafarshop/webhookgw/internal/repository/memory"
	"github.com/jafarshop/webhookgw/internal/secrets"
	"github.com/jafarshop/webhookgw/internal/service"
	"github.com/jafarshop/webhookgw/internal/webhook"
)

const (
	shopDomain = "shop.myshopify.com"
	shopSecret = "hush"
	adminKey   = "admin-key-12345"
)

type testServer struct {
	router *gin.Engine
	db     *memory.DB
	app    *bootstrap.App
	stores *service.StoreService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "test",
		Webhook: config.WebhookConfig{
			PersistenceTimeout:  time.Second,
			ClaimLease:          time.Minute,
			DeliveryRetention:   time.Hour,
			SecretRotationGrace: time.Hour,
			MaxBodyBytes:        1 << 10,
		},
		API: config.APIConfig{AdminKeyHash: string(hash)},
	}

	db := memory.NewDB()
	repos := memory.NewRepositories(db)
	ctx := context.Background()
	require.NoError(t, repos.Store.Create(ctx, &domain.StoreConnection{
		StoreID:        shopDomain,
		Secret:         shopSecret,
		AutoSyncOrders: true,
	}))
	require.NoError(t, repos.Inventory.UpsertVariant(ctx, &domain.InventoryMapping{
		StoreID:           shopDomain,
		ExternalProductID: 77,
		ExternalVariantID: 501,
		SKU:               "SKU-501",
	}))

	store := secrets.NewRepositoryStore(repos.Store)
	app, err := bootstrap.Build(cfg, repos, store, events.NoopPublisher{}, zap.NewNop())
	require.NoError(t, err)

	stores := service.NewStoreService(repos, store, nil, zap.NewNop())
	router := NewRouter(cfg, Dependencies{
		Repos:   repos,
		Gateway: app.Gateway,
		Guard:   app.Guard,
		Stores:  stores,
	}, zap.NewNop())

	return &testServer{router: router, db: db, app: app, stores: stores}
}

func (s *testServer) deliver(topic, deliveryID, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+topic, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderShopDomain, shopDomain)
	req.Header.Set(webhook.HeaderTopic, topic)
	req.Header.Set(webhook.HeaderWebhookID, deliveryID)
	req.Header.Set(webhook.HeaderTriggeredAt, time.Now().UTC().Format(time.RFC3339Nano))
	req.Header.Set(webhook.HeaderHMAC, webhook.Sign([]byte(body), secret))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) admin(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

const orderBody = `{"id":1001,"name":"#1001","currency":"EUR","total_price":"40.00",
"line_items":[{"id":1,"variant_id":501,"sku":"SKU-501","title":"Mug","quantity":2,"price":"20.00"}]}`

func TestWebhook_Scenario(t *testing.T) {
	s := newTestServer(t)

	w := s.deliver("orders/create", "d-create", shopSecret, orderBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": true}, decodeBody(t, w))

	w = s.deliver("orders/create", "d-create", shopSecret, orderBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": true, "duplicate": true}, decodeBody(t, w))

	mapping, err := s.app.Repos.Inventory.GetByVariant(context.Background(), shopDomain, 501)
	require.NoError(t, err)
	assert.Equal(t, 2, mapping.ReservedQuantity, "a duplicate delivery must not reserve twice")

	w = s.deliver("orders/updated", "d-update", shopSecret, `{"id":1001,"fulfillment_status":"partial","financial_status":"paid"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.deliver("orders/cancelled", "d-cancel", shopSecret, `{"id":1001}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.admin(http.MethodGet, "/v1/admin/orders/"+shopDomain+"/1001", "")
	require.Equal(t, http.StatusOK, w.Code)
	order := decodeBody(t, w)
	assert.Equal(t, "cancelled", order["status"])
	assert.Equal(t, "paid", order["payment_status"])

	mapping, err = s.app.Repos.Inventory.GetByVariant(context.Background(), shopDomain, 501)
	require.NoError(t, err)
	assert.Equal(t, 0, mapping.ReservedQuantity)
}

func TestWebhook_Rejections(t *testing.T) {
	s := newTestServer(t)

	w := s.deliver("orders/create", "d-1", "wrong-secret", orderBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, map[string]interface{}{"error": "unauthorized"}, decodeBody(t, w))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", strings.NewReader(orderBody))
	req.Header.Set(webhook.HeaderShopDomain, "unknown.myshopify.com")
	req.Header.Set(webhook.HeaderTopic, "orders/create")
	req.Header.Set(webhook.HeaderWebhookID, "d-1")
	req.Header.Set(webhook.HeaderHMAC, webhook.Sign([]byte(orderBody), shopSecret))
	unknown := httptest.NewRecorder()
	s.router.ServeHTTP(unknown, req)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, w.Body.String(), unknown.Body.String(), "unknown store and bad signature look the same")

	big := `{"id":1,"note":"` + strings.Repeat("x", 2<<10) + `"}`
	w = s.deliver("orders/create", "d-2", shopSecret, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestWebhook_UnknownOrderIsAcknowledged(t *testing.T) {
	s := newTestServer(t)

	w := s.deliver("orders/cancelled", "d-1", shopSecret, `{"id":999}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.admin(http.MethodGet, "/v1/admin/deliveries/"+shopDomain+"/d-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	delivery := decodeBody(t, w)
	assert.Equal(t, "rejected", delivery["result"])
	assert.Contains(t, delivery["last_error"], "order not found")
}

func TestWebhook_StorageOutageThenRetry(t *testing.T) {
	s := newTestServer(t)

	s.db.SetFail(fmt.Errorf("connection refused"))
	w := s.deliver("orders/create", "d-1", shopSecret, orderBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]interface{}{"error": "internal error"}, decodeBody(t, w))

	s.db.SetFail(nil)
	w = s.deliver("orders/create", "d-1", shopSecret, orderBody)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": true}, decodeBody(t, w))
}

func TestWebhook_UninstallRevokesSecret(t *testing.T) {
	s := newTestServer(t)

	w := s.deliver("app/uninstalled", "d-1", shopSecret, `{"id":1,"domain":"shop.myshopify.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.deliver("orders/create", "d-2", shopSecret, orderBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhook_ReinstallAfterUninstall(t *testing.T) {
	s := newTestServer(t)

	w := s.deliver("app/uninstalled", "d-1", shopSecret, `{"id":1,"domain":"shop.myshopify.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, http.StatusUnauthorized, s.deliver("orders/create", "d-2", shopSecret, orderBody).Code)

	_, err := s.stores.Register(context.Background(), service.RegisterStoreInput{
		StoreID:        shopDomain,
		Secret:         "reinstalled",
		AutoSyncOrders: true,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, s.deliver("orders/create", "d-3", shopSecret, orderBody).Code)
	assert.Equal(t, http.StatusOK, s.deliver("orders/create", "d-4", "reinstalled", orderBody).Code)
}

func TestAdmin_Auth(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{name: "missing_header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "wrong_key", header: "Bearer nope", expectedStatus: http.StatusUnauthorized},
		{name: "not_bearer", header: "Basic " + adminKey, expectedStatus: http.StatusUnauthorized},
		{name: "valid_key", header: "Bearer " + adminKey, expectedStatus: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/stores/"+shopDomain, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			assert.Equal(t, tc.expectedStatus, w.Code)
		})
	}
}

func TestAdmin_StoreAndRotation(t *testing.T) {
	s := newTestServer(t)

	w := s.admin(http.MethodGet, "/v1/admin/stores/"+shopDomain, "")
	require.Equal(t, http.StatusOK, w.Code)
	store := decodeBody(t, w)
	assert.Equal(t, "active", store["status"])
	assert.NotContains(t, store, "secret")

	w = s.admin(http.MethodPost, "/v1/admin/stores/"+shopDomain+"/rotate-secret", `{"secret":"fresh"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fresh", decodeBody(t, w)["secret"])

	// Both secrets verify during the grace period.
	assert.Equal(t, http.StatusOK, s.deliver("products/delete", "d-new", "fresh", `{"id":77}`).Code)
	assert.Equal(t, http.StatusOK, s.deliver("products/delete", "d-old", shopSecret, `{"id":77}`).Code)

	w = s.admin(http.MethodGet, "/v1/admin/stores/missing.myshopify.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.admin(http.MethodPost, "/v1/admin/stores/missing.myshopify.com/rotate-secret", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_PruneAndLookups(t *testing.T) {
	s := newTestServer(t)

	w := s.admin(http.MethodPost, "/v1/admin/deliveries/prune", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["deleted"])

	w = s.admin(http.MethodGet, "/v1/admin/deliveries/"+shopDomain+"/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.admin(http.MethodGet, "/v1/admin/orders/"+shopDomain+"/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.admin(http.MethodGet, "/v1/admin/orders/"+shopDomain+"/42", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	w := s.deliver("orders/create", "metrics-1", shopSecret, `{"id":9001,"line_items":[]}`)
	require.Equal(t, http.StatusOK, w.Code)

	m := httptest.NewRecorder()
	s.router.ServeHTTP(m, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "webhook_requests_total")
	assert.Contains(t, m.Body.String(), `topic="orders/create"`)
}
