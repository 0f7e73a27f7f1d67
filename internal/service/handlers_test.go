package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/internal/repository/memory"
	"github.com/jafarshop/webhookgw/internal/secrets"
	"github.com/jafarshop/webhookgw/internal/webhook"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

const shop = "shop.myshopify.com"

func setup(t *testing.T, autoSync bool) (*WebhookHandlers, *repository.Repositories) {
	t.Helper()
	repos := memory.NewRepositories(memory.NewDB())
	ctx := context.Background()
	require.NoError(t, repos.Store.Create(ctx, &domain.StoreConnection{
		StoreID:        shop,
		Secret:         "hush",
		AutoSyncOrders: autoSync,
	}))
	itemID := int64(9001)
	require.NoError(t, repos.Inventory.UpsertVariant(ctx, &domain.InventoryMapping{
		StoreID:                 shop,
		ExternalProductID:       77,
		ExternalVariantID:       501,
		ExternalInventoryItemID: &itemID,
		SKU:                     "SKU-501",
	}))
	return NewWebhookHandlers(repos, secrets.NewRepositoryStore(repos.Store), zap.NewNop()), repos
}

func envelope(topic domain.Topic, payload string) webhook.Envelope {
	return webhook.Envelope{
		StoreID:    shop,
		DeliveryID: fmt.Sprintf("d-%d", time.Now().UnixNano()),
		Topic:      topic,
		Payload:    []byte(payload),
		ReceivedAt: time.Now().UTC(),
	}
}

const order1001 = `{
  "id": 1001,
  "name": "#1001",
  "email": "ana@example.com",
  "customer": {"first_name": "Ana", "last_name": "Silva"},
  "shipping_address": {"name": "Ana Silva", "address1": "Keizersgracht 1", "city": "Amsterdam", "zip": "1015 CJ", "country_code": "nl"},
  "created_at": "2024-05-01T10:00:00Z",
  "currency": "EUR",
  "subtotal_price": "40.00",
  "total_tax": "9.20",
  "total_discounts": "0.00",
  "total_price": "54.20",
  "total_shipping_price_set": {"shop_money": {"amount": "5.00", "currency_code": "EUR"}},
  "financial_status": "paid",
  "line_items": [
    {"id": 1, "variant_id": 501, "sku": "SKU-501", "title": "Mug", "quantity": 2, "price": "20.00"},
    {"id": 2, "variant_id": null, "sku": "", "title": "Gift note", "quantity": 1, "price": "0.00"}
  ]
}`

func reserved(t *testing.T, repos *repository.Repositories) int {
	t.Helper()
	m, err := repos.Inventory.GetByVariant(context.Background(), shop, 501)
	require.NoError(t, err)
	return m.ReservedQuantity
}

func TestOrderLifecycle(t *testing.T) {
	h, repos := setup(t, true)
	ctx := context.Background()

	require.NoError(t, h.OrderCreate(ctx, envelope(domain.TopicOrderCreate, order1001)))

	order, err := repos.Order.GetByExternalID(ctx, shop, 1001)
	require.NoError(t, err)
	assert.Equal(t, "#1001", order.OrderName)
	assert.Equal(t, domain.OrderStatusCreated, order.Status)
	assert.Equal(t, domain.PaymentPaid, order.PaymentStatus)
	assert.Equal(t, "Ana Silva", order.CustomerName)
	assert.Equal(t, domain.ShippingAddress{
		Name:        "Ana Silva",
		Address1:    "Keizersgracht 1",
		City:        "Amsterdam",
		Zip:         "1015 CJ",
		CountryCode: "NL",
	}, order.Shipping)
	assert.InDelta(t, 54.20, order.Total, 0.001)
	assert.InDelta(t, 5.00, order.ShippingCost, 0.001)
	require.Len(t, order.LineItems, 2)
	assert.InDelta(t, 40.0, order.LineItems[0].Total, 0.001)
	assert.Equal(t, 2, reserved(t, repos))

	// A second create for the same order, e.g. a new delivery id, does not
	// reserve again.
	require.NoError(t, h.OrderCreate(ctx, envelope(domain.TopicOrderCreate, order1001)))
	assert.Equal(t, 2, reserved(t, repos))

	require.NoError(t, h.OrderUpdate(ctx, envelope(domain.TopicOrderUpdate,
		`{"id":1001,"fulfillment_status":"fulfilled","financial_status":"partially_refunded","total_price":"30.00"}`)))
	order, err = repos.Order.GetByExternalID(ctx, shop, 1001)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFulfilled, order.Status)
	assert.Equal(t, domain.PaymentRefunded, order.PaymentStatus)
	assert.InDelta(t, 30.0, order.Total, 0.001)

	require.NoError(t, h.OrderCancel(ctx, envelope(domain.TopicOrderCancel,
		`{"id":1001,"cancelled_at":"2024-05-02T09:00:00Z","cancel_reason":"customer"}`)))
	order, err = repos.Order.GetByExternalID(ctx, shop, 1001)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	require.NotNil(t, order.CancelledAt)
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC), *order.CancelledAt)
	assert.Equal(t, 0, reserved(t, repos))

	// Cancelling twice releases nothing more.
	require.NoError(t, h.OrderCancel(ctx, envelope(domain.TopicOrderCancel, `{"id":1001}`)))
	assert.Equal(t, 0, reserved(t, repos))

	// A late update does not revive a cancelled order.
	require.NoError(t, h.OrderUpdate(ctx, envelope(domain.TopicOrderUpdate,
		`{"id":1001,"fulfillment_status":"fulfilled","financial_status":"paid"}`)))
	order, err = repos.Order.GetByExternalID(ctx, shop, 1001)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
}

func TestOrderCreate_SyncDisabled(t *testing.T) {
	h, repos := setup(t, false)
	ctx := context.Background()

	require.NoError(t, h.OrderCreate(ctx, envelope(domain.TopicOrderCreate, order1001)))

	_, err := repos.Order.GetByExternalID(ctx, shop, 1001)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 0, reserved(t, repos))
}

func TestOrderHandlers_BusinessErrors(t *testing.T) {
	h, _ := setup(t, true)
	ctx := context.Background()

	testCases := []struct {
		name    string
		handler webhook.HandlerFunc
		topic   domain.Topic
		payload string
		check   func(error) bool
	}{
		{name: "create_malformed_json", handler: h.OrderCreate, topic: domain.TopicOrderCreate, payload: `{"id":`, check: isValidation},
		{name: "create_missing_id", handler: h.OrderCreate, topic: domain.TopicOrderCreate, payload: `{"name":"#1"}`, check: isValidation},
		{name: "update_unknown_order", handler: h.OrderUpdate, topic: domain.TopicOrderUpdate, payload: `{"id":42}`, check: errors.IsNotFound},
		{name: "cancel_unknown_order", handler: h.OrderCancel, topic: domain.TopicOrderCancel, payload: `{"id":42}`, check: errors.IsNotFound},
		{name: "refund_unknown_order", handler: h.RefundCreate, topic: domain.TopicRefundCreate, payload: `{"id":7,"order_id":42}`, check: errors.IsNotFound},
		{name: "refund_missing_order_id", handler: h.RefundCreate, topic: domain.TopicRefundCreate, payload: `{"id":7}`, check: isValidation},
		{name: "bad_amount", handler: h.OrderCreate, topic: domain.TopicOrderCreate, payload: `{"id":1,"total_price":"abc"}`, check: isValidation},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.handler(ctx, envelope(tc.topic, tc.payload))
			require.Error(t, err)
			assert.True(t, tc.check(err), "unexpected error: %v", err)
			assert.True(t, errors.IsBusiness(err))
		})
	}
}

func isValidation(err error) bool {
	var v *errors.ErrValidation
	return stderrors.As(err, &v)
}

func TestInventoryUpdate_LastWriteWins(t *testing.T) {
	h, repos := setup(t, true)
	ctx := context.Background()

	stock := func() int {
		m, err := repos.Inventory.GetByVariant(ctx, shop, 501)
		require.NoError(t, err)
		return m.StockLevel
	}

	require.NoError(t, h.InventoryUpdate(ctx, envelope(domain.TopicInventoryUpdate,
		`{"inventory_item_id":9001,"available":12,"updated_at":"2024-05-01T12:00:00Z"}`)))
	assert.Equal(t, 12, stock())

	// Older event arriving late is ignored.
	require.NoError(t, h.InventoryUpdate(ctx, envelope(domain.TopicInventoryUpdate,
		`{"inventory_item_id":9001,"available":3,"updated_at":"2024-05-01T11:00:00Z"}`)))
	assert.Equal(t, 12, stock())

	require.NoError(t, h.InventoryUpdate(ctx, envelope(domain.TopicInventoryUpdate,
		`{"variant_id":501,"available":8,"updated_at":"2024-05-01T13:00:00Z"}`)))
	assert.Equal(t, 8, stock())

	// Without updated_at the trigger time decides.
	triggered := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	env := envelope(domain.TopicInventoryUpdate, `{"inventory_item_id":9001,"available":5}`)
	env.TriggeredAt = &triggered
	require.NoError(t, h.InventoryUpdate(ctx, env))
	assert.Equal(t, 5, stock())

	err := h.InventoryUpdate(ctx, envelope(domain.TopicInventoryUpdate, `{"inventory_item_id":1,"available":5}`))
	assert.True(t, errors.IsNotFound(err))

	err = h.InventoryUpdate(ctx, envelope(domain.TopicInventoryUpdate, `{"available":5}`))
	assert.True(t, isValidation(err))
}

func TestProductUpdateAndDelete(t *testing.T) {
	h, repos := setup(t, true)
	ctx := context.Background()

	require.NoError(t, h.ProductUpdate(ctx, envelope(domain.TopicProductUpdate, `{
	  "id": 77,
	  "title": "Mug",
	  "variants": [
	    {"id": 501, "title": "Blue", "sku": "SKU-501-B", "inventory_item_id": 9001},
	    {"id": 502, "title": "Red", "sku": "SKU-502", "inventory_item_id": 9002}
	  ]
	}`)))

	blue, err := repos.Inventory.GetByVariant(ctx, shop, 501)
	require.NoError(t, err)
	assert.Equal(t, "SKU-501-B", blue.SKU)
	assert.Equal(t, "Mug", blue.ProductTitle)
	assert.Equal(t, "Blue", blue.VariantTitle)

	red, err := repos.Inventory.GetByVariant(ctx, shop, 502)
	require.NoError(t, err)
	assert.True(t, red.IsActive)

	require.NoError(t, h.OrderCreate(ctx, envelope(domain.TopicOrderCreate, order1001)))
	require.NoError(t, h.ProductDelete(ctx, envelope(domain.TopicProductDelete, `{"id":77}`)))

	for _, variant := range []int64{501, 502} {
		m, err := repos.Inventory.GetByVariant(ctx, shop, variant)
		require.NoError(t, err)
		assert.False(t, m.IsActive)
	}
	_, err = repos.Order.GetByExternalID(ctx, shop, 1001)
	assert.NoError(t, err, "orders survive product deletion")
}

func TestRefundCreate(t *testing.T) {
	h, repos := setup(t, true)
	ctx := context.Background()
	require.NoError(t, h.OrderCreate(ctx, envelope(domain.TopicOrderCreate, order1001)))

	require.NoError(t, h.RefundCreate(ctx, envelope(domain.TopicRefundCreate, `{
	  "id": 8800,
	  "order_id": 1001,
	  "created_at": "2024-05-03T08:00:00Z",
	  "refund_line_items": [
	    {"id": 1, "line_item_id": 1, "quantity": 1, "restock_type": "cancel", "subtotal": "20.00"},
	    {"id": 2, "line_item_id": 2, "quantity": 1, "restock_type": "return", "subtotal": "0.00",
	     "line_item": {"id": 2, "variant_id": null, "sku": "NOTE"}}
	  ],
	  "transactions": [
	    {"id": 1, "kind": "refund", "status": "success", "amount": "24.60"},
	    {"id": 2, "kind": "refund", "status": "failure", "amount": "99.00"}
	  ]
	}`)))

	order, err := repos.Order.GetByExternalID(ctx, shop, 1001)
	require.NoError(t, err)
	returns, err := repos.Return.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, returns, 1)

	ret := returns[0]
	assert.Equal(t, "RET-SHP-8800", ret.ReturnCode)
	assert.Equal(t, domain.ReturnStatusRegistered, ret.Status)
	assert.InDelta(t, 24.60, ret.Amount, 0.001)
	assert.Equal(t, "EUR", ret.Currency)
	assert.Equal(t, time.Date(2024, 5, 3, 8, 0, 0, 0, time.UTC), ret.RegisteredAt)
	require.Len(t, ret.Items, 2)
	assert.Equal(t, domain.ReturnReasonNoLongerNeeded, ret.Items[0].Reason)
	require.NotNil(t, ret.Items[0].ExternalVariantID)
	assert.Equal(t, int64(501), *ret.Items[0].ExternalVariantID)
	assert.Equal(t, "SKU-501", ret.Items[0].SKU)
	assert.Equal(t, domain.ReturnReasonOther, ret.Items[1].Reason)
	assert.Equal(t, "NOTE", ret.Items[1].SKU)
}

func TestAppUninstalled(t *testing.T) {
	h, repos := setup(t, true)
	ctx := context.Background()

	require.NoError(t, h.AppUninstalled(ctx, envelope(domain.TopicAppUninstalled, `{"id":1,"domain":"shop.myshopify.com"}`)))

	store, err := repos.Store.GetByID(ctx, shop)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionDisconnected, store.Status)
	assert.NotNil(t, store.DisconnectedAt)

	m, err := repos.Inventory.GetByVariant(ctx, shop, 501)
	require.NoError(t, err)
	assert.False(t, m.IsActive)

	_, err = secrets.NewRepositoryStore(repos.Store).Lookup(ctx, shop)
	assert.True(t, errors.IsNotFound(err), "disconnected stores no longer verify")
}

// failingSecrets resolves through the repository but cannot flush its cache
type failingSecrets struct {
	*secrets.RepositoryStore
	err error
}

func (f failingSecrets) Invalidate(context.Context, string) error { return f.err }

func TestAppUninstalled_InvalidateFailureIsRetried(t *testing.T) {
	h, repos := setup(t, true)
	h.secrets = failingSecrets{RepositoryStore: secrets.NewRepositoryStore(repos.Store), err: assert.AnError}
	ctx := context.Background()
	env := envelope(domain.TopicAppUninstalled, `{"id":1,"domain":"shop.myshopify.com"}`)

	err := h.AppUninstalled(ctx, env)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err), "the sender must retry until the cache is flushed")
	assert.ErrorIs(t, err, assert.AnError)

	h.secrets = secrets.NewRepositoryStore(repos.Store)
	require.NoError(t, h.AppUninstalled(ctx, env), "the retry repeats the disconnect")

	store, err := repos.Store.GetByID(ctx, shop)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionDisconnected, store.Status)
}

func TestAppUninstalled_ThenProductUpdateReactivatesMapping(t *testing.T) {
	h, repos := setup(t, true)
	ctx := context.Background()

	require.NoError(t, h.AppUninstalled(ctx, envelope(domain.TopicAppUninstalled, `{"id":1}`)))
	m, err := repos.Inventory.GetByVariant(ctx, shop, 501)
	require.NoError(t, err)
	require.False(t, m.IsActive)

	require.NoError(t, h.ProductUpdate(ctx, envelope(domain.TopicProductUpdate,
		`{"id":77,"title":"Mug","variants":[{"id":501,"title":"Blue","sku":"SKU-501","inventory_item_id":9001}]}`)))

	m, err = repos.Inventory.GetByVariant(ctx, shop, 501)
	require.NoError(t, err)
	assert.True(t, m.IsActive)

	require.NoError(t, h.InventoryUpdate(ctx, envelope(domain.TopicInventoryUpdate,
		`{"inventory_item_id":9001,"location_id":1,"available":12,"updated_at":"2030-01-01T00:00:00Z"}`)))
	m, err = repos.Inventory.GetByVariant(ctx, shop, 501)
	require.NoError(t, err)
	assert.Equal(t, 12, m.StockLevel)
}

func TestRegister(t *testing.T) {
	h, _ := setup(t, true)
	d := webhook.NewDispatcher()
	require.NoError(t, h.Register(d))
	assert.ElementsMatch(t, domain.Topics, d.Topics())
	assert.Error(t, h.Register(d), "registering twice fails")
}
